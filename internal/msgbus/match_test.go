package msgbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatching(t *testing.T) {
	testCases := []struct {
		desc    string
		topic   string
		pattern string
		want    bool
	}{
		{desc: "exact", topic: "data.quotes.BINANCE", pattern: "data.quotes.BINANCE", want: true},
		{desc: "exact mismatch", topic: "data.quotes.BINANCE", pattern: "data.quotes.BYBIT"},
		{desc: "star suffix", topic: "data.quotes.BINANCE", pattern: "data.*", want: true},
		{desc: "star middle", topic: "data.quotes.BINANCE", pattern: "data.*.BINANCE", want: true},
		{desc: "star empty", topic: "data.", pattern: "data.*", want: true},
		{desc: "lone star", topic: "anything", pattern: "*", want: true},
		{desc: "question", topic: "data.quotes.BINANCE", pattern: "data.quotes.BINANC?", want: true},
		{desc: "question needs one byte", topic: "data.quotes.BINANC", pattern: "data.quotes.BINANC?"},
		{desc: "mixed", topic: "events.order.S-001", pattern: "events.*.S-00?", want: true},
		{desc: "star then mismatch", topic: "data.trades.BINANCE", pattern: "data.*.BYBIT"},
		{desc: "double star", topic: "a.b.c", pattern: "**c", want: true},
		{desc: "empty topic", topic: "", pattern: "*", want: true},
		{desc: "empty topic question", topic: "", pattern: "?"},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, IsMatching(tc.topic, tc.pattern))
		})
	}
}

func BenchmarkIsMatching(b *testing.B) {
	for b.Loop() {
		IsMatching("data.book.deltas.BTCUSDT.BINANCE", "data.book.*.BTC???T.*")
	}
}
