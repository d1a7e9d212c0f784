package book

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/obs"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

// Config controls book defaults for instruments registered on the fly.
type Config struct {
	BookType    enum.BookType `json:"book_type"`
	MaxBuffered int           `json:"max_buffered"`
	// AutoRegister creates a book on the first delta of an unknown
	// instrument instead of rejecting it.
	AutoRegister bool `json:"auto_register"`
}

// DefaultConfig returns L2 books with auto registration.
func DefaultConfig() Config {
	return Config{BookType: enum.BookTypeL2MBP, MaxBuffered: defaultMaxBuffered, AutoRegister: true}
}

// ResyncFunc is called outside any book lock when an instrument needs a
// fresh snapshot.
type ResyncFunc func(id model.InstrumentID)

// Engine routes deltas to per-instrument books.
type Engine struct {
	cfg      Config
	clock    clock.Clock
	metrics  *obs.Metrics
	onResync ResyncFunc

	mu    sync.RWMutex
	books map[model.InstrumentID]*Book
}

type EngineOption func(*Engine)

func WithMetrics(m *obs.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(c clock.Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

func WithResync(fn ResyncFunc) EngineOption {
	return func(e *Engine) { e.onResync = fn }
}

func NewEngine(cfg Config, opts ...EngineOption) *Engine {
	if !cfg.BookType.IsAvailable() {
		cfg.BookType = enum.BookTypeL2MBP
	}
	e := &Engine{
		cfg:   cfg,
		clock: clock.Real(),
		books: make(map[model.InstrumentID]*Book),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a book for id.
func (e *Engine) Register(id model.InstrumentID, bookType enum.BookType) (*Book, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.books[id]; ok {
		return nil, errors.Wrapf(exception.ErrBookExists, "instrument %s", id)
	}
	return e.registerLocked(id, bookType)
}

func (e *Engine) registerLocked(id model.InstrumentID, bookType enum.BookType) (*Book, error) {
	b, err := NewBook(id, bookType, e.cfg.MaxBuffered, e.metrics)
	if err != nil {
		return nil, err
	}
	e.books[id] = b
	logs.Infof("book: register %s as %s", id, bookType)
	return b, nil
}

func (e *Engine) Book(id model.InstrumentID) (*Book, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.books[id]
	return b, ok
}

func (e *Engine) bookFor(id model.InstrumentID) (*Book, error) {
	if b, ok := e.Book(id); ok {
		return b, nil
	}
	if !e.cfg.AutoRegister {
		return nil, errors.Wrapf(exception.ErrBookUnknown, "instrument %s", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.books[id]; ok {
		return b, nil
	}
	return e.registerLocked(id, e.cfg.BookType)
}

// Handle routes one delta; batches commit at the packet end flag.
func (e *Engine) Handle(d model.OrderBookDelta) error {
	b, err := e.bookFor(d.InstrumentID)
	if err != nil {
		return err
	}
	start := e.clock.Now()
	err = b.Handle(d)
	if d.IsLast() {
		e.metrics.Since(obs.LatencyBookApply, start, e.clock.Now())
	}
	return e.afterApply(d.InstrumentID, err)
}

// ApplyBatch applies deltas of one instrument as a single packet.
func (e *Engine) ApplyBatch(batch []model.OrderBookDelta) error {
	if len(batch) == 0 {
		return exception.ErrBookEmptyBatch
	}
	id := batch[0].InstrumentID
	b, err := e.bookFor(id)
	if err != nil {
		return err
	}
	start := e.clock.Now()
	err = b.ApplyBatch(batch)
	e.metrics.Since(obs.LatencyBookApply, start, e.clock.Now())
	return e.afterApply(id, err)
}

func (e *Engine) ApplyDepth(depth model.OrderBookDepth10) error {
	return e.ApplyBatch(depth.Deltas())
}

func (e *Engine) afterApply(id model.InstrumentID, err error) error {
	if err == nil {
		return nil
	}
	if ve, ok := exception.AsVenueError(err); ok && ve.Code == exception.CodeOrderBookResync && e.onResync != nil {
		e.onResync(id)
	}
	return err
}

// View returns the current view of id.
func (e *Engine) View(id model.InstrumentID) (View, bool) {
	b, ok := e.Book(id)
	if !ok {
		return View{}, false
	}
	return b.View(), true
}

// Reference returns the midpoint of a live two-sided book. Stale books
// have no reference.
func (e *Engine) Reference(id model.InstrumentID) (decimal.Decimal, bool) {
	v, ok := e.View(id)
	if !ok || v.Stale || v.BestBid == nil || v.BestAsk == nil {
		return decimal.Decimal{}, false
	}
	return v.BestBid.Price.AsDecimal().Add(v.BestAsk.Price.AsDecimal()).Div(decimal.NewFromInt(2)), true
}

// Instruments lists registered books in identifier order.
func (e *Engine) Instruments() []model.InstrumentID {
	e.mu.RLock()
	out := make([]model.InstrumentID, 0, len(e.books))
	for id := range e.books {
		out = append(out, id)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
