package live

import (
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/decode"
	"tradecore/internal/model"
	"tradecore/internal/msgbus"
	"tradecore/pkg/exception"
)

// Topics the node publishes market data on.
func DeltasTopic(id model.InstrumentID) string     { return "data.book.deltas." + id.String() }
func DepthTopic(id model.InstrumentID) string      { return "data.book.depth." + id.String() }
func QuoteTopic(id model.InstrumentID) string      { return "data.quotes." + id.String() }
func TradeTopic(id model.InstrumentID) string      { return "data.trades." + id.String() }
func BarTopic(id model.InstrumentID) string        { return "data.bars." + id.String() }
func InstrumentTopic(id model.InstrumentID) string { return "data.instrument." + id.String() }

// handleData applies book events before publishing them, so subscribers
// of a deltas topic always see a book that already holds the deltas.
func (n *Node) handleData(env msgbus.Envelope, yield func(msgbus.Command) bool) error {
	ev, ok := env.Message.(decode.Event)
	if !ok {
		return errors.Wrapf(exception.ErrTypeUnsupported, "data message %T", env.Message)
	}

	switch ev.Kind {
	case decode.EventDeltas:
		if len(ev.Deltas) == 0 {
			return nil
		}
		id := ev.Deltas[0].InstrumentID
		if err := n.books.ApplyBatch(ev.Deltas); err != nil {
			return n.rejected(id, err)
		}
		yield(msgbus.Publish(DeltasTopic(id), ev.Deltas))
	case decode.EventDepth:
		if err := n.books.ApplyDepth(*ev.Depth); err != nil {
			return n.rejected(ev.Depth.InstrumentID, err)
		}
		yield(msgbus.Publish(DepthTopic(ev.Depth.InstrumentID), *ev.Depth))
	case decode.EventQuote:
		yield(msgbus.Publish(QuoteTopic(ev.Quote.InstrumentID), *ev.Quote))
	case decode.EventTrade:
		yield(msgbus.Publish(TradeTopic(ev.Trade.InstrumentID), *ev.Trade))
	case decode.EventBar:
		yield(msgbus.Publish(BarTopic(ev.Bar.InstrumentID), *ev.Bar))
	case decode.EventInstrument:
		if err := n.cache.AddInstrument(*ev.Instrument); err != nil {
			return err
		}
		yield(msgbus.Publish(InstrumentTopic(ev.Instrument.ID), *ev.Instrument))
	default:
		logs.Debugf("live: ignore %s event on the data endpoint", ev.Kind)
	}
	return nil
}

// rejected swallows resync errors: the book engine already asked the data
// client for a snapshot.
func (n *Node) rejected(id model.InstrumentID, err error) error {
	if ve, ok := exception.AsVenueError(err); ok && ve.Code == exception.CodeOrderBookResync {
		logs.Warnf("live: book %s resyncing, err: %+v", id, err)
		return nil
	}
	return errors.Wrapf(err, "apply %s", id)
}
