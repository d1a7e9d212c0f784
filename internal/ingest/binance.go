package ingest

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/yanun0323/errors"

	"tradecore/internal/decode"
	bdecode "tradecore/internal/decode/binance"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/network"
	"tradecore/pkg/exception"
)

const (
	_binanceStreamUrl        = "wss://stream.binance.com:9443/ws"
	_binanceStreamUrlTestnet = "wss://stream.testnet.binance.vision/ws"

	_binanceSnapshotLimit = 1000
)

// BinanceStreamURL returns the raw stream root of an environment.
func BinanceStreamURL(testnet bool) string {
	if testnet {
		return _binanceStreamUrlTestnet
	}
	return _binanceStreamUrl
}

// Binance is the spot market data venue. The REST client is only used for
// depth snapshots and may be nil.
type Binance struct {
	decoder *bdecode.Decoder
	rest    *network.HTTPClient
	reqID   atomic.Uint64
}

func NewBinance(decoder *bdecode.Decoder, rest *network.HTTPClient) *Binance {
	return &Binance{decoder: decoder, rest: rest}
}

func (b *Binance) Name() model.Venue { return bdecode.Venue }

func (b *Binance) Decoder() decode.Decoder { return b.decoder }

func (b *Binance) Stream(inst model.Instrument, topic enum.Topic) (string, error) {
	symbol := strings.ToLower(string(inst.RawSymbol))
	if symbol == "" {
		symbol = strings.ToLower(string(inst.ID.Symbol))
	}
	switch topic {
	case enum.TopicDepth:
		return symbol + "@depth@100ms", nil
	case enum.TopicTrade:
		return symbol + "@trade", nil
	case enum.TopicQuote:
		return symbol + "@bookTicker", nil
	default:
		return "", errors.Wrapf(exception.ErrIngestInvalidRequest, "binance has no public %s stream", topic)
	}
}

func (b *Binance) EncodeSubscribe(topics ...string) ([]byte, error) {
	return b.control("SUBSCRIBE", topics)
}

func (b *Binance) EncodeUnsubscribe(topics ...string) ([]byte, error) {
	return b.control("UNSUBSCRIBE", topics)
}

func (b *Binance) control(method string, topics []string) ([]byte, error) {
	if len(topics) == 0 {
		return nil, exception.ErrIngestInvalidRequest
	}
	dst := make([]byte, 0, 48+32*len(topics))
	dst = append(dst, `{"method":"`...)
	dst = append(dst, method...)
	dst = append(dst, `","params":[`...)
	for i, t := range topics {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, '"')
		dst = append(dst, t...)
		dst = append(dst, '"')
	}
	dst = append(dst, `],"id":`...)
	dst = strconv.AppendUint(dst, b.reqID.Add(1), 10)
	dst = append(dst, '}')
	return dst, nil
}

func (b *Binance) FetchSnapshot(ctx context.Context, inst model.Instrument) ([]byte, error) {
	if b.rest == nil {
		return nil, errors.Wrapf(exception.ErrIngestNoSnapshot, "%s", inst.ID)
	}
	return b.rest.Do(ctx, network.Request{
		Method: http.MethodGet,
		Path:   "/api/v3/depth",
		Query: url.Values{
			"symbol": {string(inst.RawSymbol)},
			"limit":  {strconv.Itoa(_binanceSnapshotLimit)},
		},
	})
}

func (b *Binance) DecodeSnapshot(inst model.Instrument, body []byte) (decode.Event, error) {
	return b.decoder.DecodeDepthSnapshot(string(inst.RawSymbol), body)
}
