// Package binance decodes Binance spot and futures websocket frames and
// REST depth snapshots.
package binance

import (
	"encoding/json"
	"strconv"

	"github.com/bytedance/sonic"

	"tradecore/internal/decode"
	"tradecore/internal/model"
	"tradecore/pkg/clock"
)

// Venue is the short code of instruments this decoder resolves.
const Venue model.Venue = "BINANCE"

// json keys differ only by case ("b" bid levels, "B" bid size), so the
// decoder must match them exactly.
var api = sonic.Config{CaseSensitive: true}.Froze()

var (
	keyEvent  = []byte(`"e"`)
	keyStream = []byte(`"stream"`)
	keyCode   = []byte(`"code"`)
	keyResult = []byte(`"result"`)
	keyUpdate = []byte(`"u"`)
)

// Decoder is stateful only in the per-symbol depth sequence context. It
// belongs to one connection.
type Decoder struct {
	instruments *decode.Instruments
	account     model.AccountID
	clock       clock.Clock
	depth       map[string]*depthContext
}

type Option func(*Decoder)

func WithClock(c clock.Clock) Option {
	return func(d *Decoder) { d.clock = c }
}

// WithAccount sets the account stamped on execution reports.
func WithAccount(id model.AccountID) Option {
	return func(d *Decoder) { d.account = id }
}

func New(instruments *decode.Instruments, opts ...Option) *Decoder {
	d := &Decoder{
		instruments: instruments,
		account:     model.AccountID(Venue + "-001"),
		clock:       clock.Real(),
		depth:       make(map[string]*depthContext),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type errorResponse struct {
	Code int64  `json:"code"`
	Msg  string `json:"msg"`
	ID   any    `json:"id"`
}

func (d *Decoder) Decode(frame []byte) (decode.Event, error) {
	if len(frame) == 0 || frame[0] != '{' {
		return decode.Event{}, decode.Malformed("binance frame is not an object")
	}
	if decode.HasKey(frame, keyStream) {
		var env envelope
		if err := api.Unmarshal(frame, &env); err != nil {
			return decode.Event{}, decode.MalformedErr(err, "combined stream")
		}
		if len(env.Data) == 0 {
			return decode.Event{}, decode.Malformed("combined stream %s without data", env.Stream)
		}
		frame = env.Data
	}

	event, ok := decode.StringField(frame, keyEvent)
	if !ok {
		return d.decodeUntyped(frame)
	}
	switch string(event) {
	case "depthUpdate":
		return d.decodeDepthUpdate(frame)
	case "trade":
		return d.decodeTrade(frame)
	case "kline":
		return d.decodeKline(frame)
	case "executionReport":
		return d.decodeExecutionReport(frame)
	case "bookTicker":
		return d.decodeBookTicker(frame)
	default:
		return decode.Event{}, decode.Unsupported("binance event %s", event)
	}
}

// decodeUntyped handles frames without an event type: spot book tickers,
// error responses and subscription acks.
func (d *Decoder) decodeUntyped(frame []byte) (decode.Event, error) {
	switch {
	case decode.HasKey(frame, keyCode):
		var resp errorResponse
		if err := api.Unmarshal(frame, &resp); err != nil {
			return decode.Event{}, decode.MalformedErr(err, "error response")
		}
		return decode.Event{Kind: decode.EventReject, Reject: &decode.Reject{
			Venue:  Venue,
			RefID:  refID(resp.ID),
			Code:   strconv.FormatInt(resp.Code, 10),
			Reason: resp.Msg,
		}}, nil
	case decode.HasKey(frame, keyResult):
		return decode.Event{Kind: decode.EventHeartbeat}, nil
	case decode.HasKey(frame, keyUpdate):
		return d.decodeBookTicker(frame)
	default:
		return decode.Event{}, decode.Malformed("binance frame without event type")
	}
}

func refID(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

func msToNanos(ms int64) int64 { return ms * 1_000_000 }
