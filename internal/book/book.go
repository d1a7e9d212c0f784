package book

import (
	"sync"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/obs"
	"tradecore/pkg/exception"
)

// State is the sequencing state of a book.
type State uint8

const (
	_state_beg State = iota
	StateUninitialized
	StateLive
	StateResync
	_state_end
)

func (s State) IsAvailable() bool {
	return s > _state_beg && s < _state_end
}

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLive:
		return "live"
	case StateResync:
		return "resync"
	default:
		return "unknown"
	}
}

const defaultMaxBuffered = 1024

// Book guards one OrderBook with its sequencing state machine. Writers
// commit whole batches under the write lock, so readers see either the
// pre-batch or the post-batch book.
type Book struct {
	mu          sync.RWMutex
	book        *OrderBook
	state       State
	snapshotSeq uint64
	maxBuffered int
	metrics     *obs.Metrics

	// pending collects deltas until the packet end flag.
	pending []model.OrderBookDelta
	// buffered holds batches received while waiting for a snapshot.
	buffered [][]model.OrderBookDelta
}

func NewBook(id model.InstrumentID, bookType enum.BookType, maxBuffered int, metrics *obs.Metrics) (*Book, error) {
	if !bookType.IsAvailable() {
		return nil, errors.Wrapf(exception.ErrBookInvalidType, "instrument %s", id)
	}
	if maxBuffered <= 0 {
		maxBuffered = defaultMaxBuffered
	}
	return &Book{
		book:        NewOrderBook(id, bookType),
		state:       StateUninitialized,
		maxBuffered: maxBuffered,
		metrics:     metrics,
	}, nil
}

func (b *Book) InstrumentID() model.InstrumentID { return b.book.instrumentID }

// Handle accumulates one delta and applies the batch once the delta carries
// the packet end flag.
func (b *Book) Handle(d model.OrderBookDelta) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, d)
	if !d.IsLast() {
		return nil
	}
	batch := b.pending
	b.pending = nil
	return b.applyLocked(batch)
}

// ApplyBatch applies deltas as one packet regardless of their flags.
func (b *Book) ApplyBatch(batch []model.OrderBookDelta) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applyLocked(batch)
}

// ApplyDepth applies a depth snapshot as Clear followed by adds.
func (b *Book) ApplyDepth(depth model.OrderBookDepth10) error {
	return b.ApplyBatch(depth.Deltas())
}

func (b *Book) validate(batch []model.OrderBookDelta) error {
	if len(batch) == 0 {
		return exception.ErrBookEmptyBatch
	}
	id := b.book.instrumentID
	prev := batch[0].Sequence
	for i, d := range batch {
		if d.InstrumentID != id {
			return errors.Wrapf(exception.ErrBookInstrumentMatch, "book %s delta %s", id, d.InstrumentID)
		}
		if !d.Action.IsAvailable() {
			return errors.Wrapf(exception.ErrBookInvalidAction, "book %s action %d", id, d.Action)
		}
		if d.Action != enum.BookActionClear && !d.Order.Side.IsAvailable() {
			return errors.Wrapf(exception.ErrBookInvalidSide, "book %s side %d", id, d.Order.Side)
		}
		if d.Action == enum.BookActionDelete && d.Order.Size.IsPositive() {
			return errors.Wrapf(exception.ErrBookDeleteWithSize, "book %s delete %s size %s", id, d.Order.Price, d.Order.Size)
		}
		if i > 0 && (d.Sequence < prev || d.Sequence > prev+1) {
			return errors.Wrapf(exception.ErrBookSequenceDecrease, "book %s %d after %d", id, d.Sequence, prev)
		}
		prev = d.Sequence
	}
	return nil
}

func isSnapshot(batch []model.OrderBookDelta) bool {
	return batch[0].Action == enum.BookActionClear || batch[0].IsSnapshot()
}

func (b *Book) applyLocked(batch []model.OrderBookDelta) error {
	if err := b.validate(batch); err != nil {
		return err
	}
	if isSnapshot(batch) {
		if tail := batch[len(batch)-1].Sequence; tail < b.snapshotSeq {
			return exception.InvariantViolation("sequence_regression",
				b.book.instrumentID.String()+" snapshot older than confirmed snapshot")
		}
		if err := b.commit(batch); err != nil {
			return err
		}
		b.snapshotSeq = b.book.sequence
		b.setState(StateLive)
		return b.replayBuffered()
	}

	if b.state != StateLive {
		return b.buffer(batch)
	}
	return b.applyIncremental(batch)
}

func (b *Book) applyIncremental(batch []model.OrderBookDelta) error {
	id := b.book.instrumentID
	first, last := batch[0].Sequence, b.book.sequence
	switch {
	case first == last+1:
		return b.commit(batch)
	case first <= last:
		if first > b.snapshotSeq {
			b.metrics.Inc(obs.CounterBookStaleDrop)
			logs.Warnf("book: %s drop stale packet %d, last %d", id, first, last)
			return nil
		}
		b.setState(StateResync)
		return exception.InvariantViolation("sequence_regression",
			id.String()+" sequence at or below confirmed snapshot")
	default:
		b.setState(StateResync)
		b.buffered = append(b.buffered[:0], batch)
		b.metrics.Inc(obs.CounterBookResync)
		logs.Warnf("book: %s gap, expected %d got %d", id, last+1, first)
		return exception.OrderBookResync(id.String())
	}
}

func (b *Book) buffer(batch []model.OrderBookDelta) error {
	if len(b.buffered) >= b.maxBuffered {
		b.buffered = b.buffered[:0]
		return errors.Wrapf(exception.ErrBookBufferFull, "book %s holds %d batches", b.book.instrumentID, b.maxBuffered)
	}
	b.buffered = append(b.buffered, batch)
	return nil
}

// replayBuffered applies the batches that continue the new snapshot.
func (b *Book) replayBuffered() error {
	buffered := b.buffered
	b.buffered = nil
	for i, batch := range buffered {
		seq := b.book.sequence
		if batch[len(batch)-1].Sequence <= seq {
			continue
		}
		if batch[0].Sequence <= seq {
			start := 0
			for start < len(batch) && batch[start].Sequence <= seq {
				start++
			}
			batch = batch[start:]
		}
		if batch[0].Sequence != seq+1 {
			b.setState(StateResync)
			b.buffered = append(b.buffered, buffered[i:]...)
			b.metrics.Inc(obs.CounterBookResync)
			return exception.OrderBookResync(b.book.instrumentID.String())
		}
		if err := b.commit(batch); err != nil {
			return err
		}
	}
	return nil
}

func (b *Book) commit(batch []model.OrderBookDelta) error {
	crossedOK := false
	for _, d := range batch {
		b.book.apply(d)
		if d.Flags&model.FlagCrossed != 0 {
			crossedOK = true
		}
	}
	tail := batch[len(batch)-1]
	b.book.sequence = tail.Sequence
	if tail.TsEvent > b.book.tsLast {
		b.book.tsLast = tail.TsEvent
	}
	b.book.updateCount++
	b.metrics.Inc(obs.CounterBookBatch)

	if !crossedOK && b.book.IsCrossed() {
		b.setState(StateResync)
		return exception.InvariantViolation("crossed_book", b.book.instrumentID.String())
	}
	return nil
}

func (b *Book) setState(s State) {
	if b.state == s {
		return
	}
	logs.Infof("book: %s %s -> %s", b.book.instrumentID, b.state, s)
	b.state = s
}

func (b *Book) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// IsStale reports that reads may lag the venue until the next snapshot.
func (b *Book) IsStale() bool {
	return b.State() != StateLive
}

// View is a consistent read of a book at one point between batches.
type View struct {
	InstrumentID model.InstrumentID     `json:"instrument_id"`
	State        State                  `json:"state"`
	Stale        bool                   `json:"stale"`
	Sequence     uint64                 `json:"sequence"`
	TsLast       int64                  `json:"ts_last"`
	UpdateCount  uint64                 `json:"update_count"`
	BestBid      *Level                 `json:"best_bid,omitempty"`
	BestAsk      *Level                 `json:"best_ask,omitempty"`
	Depth        model.OrderBookDepth10 `json:"depth"`
}

func (b *Book) View() View {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v := View{
		InstrumentID: b.book.instrumentID,
		State:        b.state,
		Stale:        b.state != StateLive,
		Sequence:     b.book.sequence,
		TsLast:       b.book.tsLast,
		UpdateCount:  b.book.updateCount,
		Depth:        b.book.Depth10(),
	}
	if lvl, ok := b.book.BestBid(); ok {
		v.BestBid = &lvl
	}
	if lvl, ok := b.book.BestAsk(); ok {
		v.BestAsk = &lvl
	}
	return v
}

// Read runs fn against the book under the read lock. fn must not retain
// the book.
func (b *Book) Read(fn func(ob *OrderBook, stale bool)) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fn(b.book, b.state != StateLive)
}
