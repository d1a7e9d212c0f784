package order

import (
	"github.com/yanun0323/errors"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/pkg/exception"
)

// Bus endpoints accepting outbound commands.
const (
	EndpointSubmit = "commands.submit_order"
	EndpointCancel = "commands.cancel_order"
)

// SubmitOrder asks for a new order at the instrument's venue.
type SubmitOrder struct {
	TraderID      model.TraderID      `json:"trader_id"`
	StrategyID    model.StrategyID    `json:"strategy_id"`
	AccountID     model.AccountID     `json:"account_id,omitempty"`
	InstrumentID  model.InstrumentID  `json:"instrument_id"`
	ClientOrderID model.ClientOrderID `json:"client_order_id"`
	Side          enum.OrderSide      `json:"side"`
	Type          enum.OrderType      `json:"type"`
	Quantity      model.Quantity      `json:"quantity"`
	Price         *model.Price        `json:"price,omitempty"`
	TriggerPrice  *model.Price        `json:"trigger_price,omitempty"`
	TimeInForce   enum.TimeInForce    `json:"time_in_force"`
	ExpireTime    int64               `json:"expire_time,omitempty"`
	PostOnly      bool                `json:"post_only,omitempty"`
	ReduceOnly    bool                `json:"reduce_only,omitempty"`
	Tags          []string            `json:"tags,omitempty"`
}

func (c SubmitOrder) validate() error {
	switch {
	case c.ClientOrderID == "":
		return errors.Wrap(exception.ErrOrderInvalidRequest, "empty client order id")
	case c.StrategyID == "":
		return errors.Wrapf(exception.ErrOrderInvalidRequest, "%s: empty strategy id", c.ClientOrderID)
	case c.InstrumentID.IsZero():
		return errors.Wrapf(exception.ErrOrderInvalidRequest, "%s: empty instrument", c.ClientOrderID)
	case !c.Side.IsAvailable() || !c.Type.IsAvailable():
		return errors.Wrapf(exception.ErrOrderInvalidRequest, "%s: side %s type %s", c.ClientOrderID, c.Side, c.Type)
	case !c.Quantity.IsPositive():
		return errors.Wrapf(exception.ErrOrderInvalidRequest, "%s: quantity %s", c.ClientOrderID, c.Quantity)
	case c.Type.HasPrice() && c.Price == nil:
		return errors.Wrapf(exception.ErrOrderInvalidRequest, "%s: %s without price", c.ClientOrderID, c.Type)
	case c.Type.HasTrigger() && c.TriggerPrice == nil:
		return errors.Wrapf(exception.ErrOrderInvalidRequest, "%s: %s without trigger price", c.ClientOrderID, c.Type)
	}
	return nil
}

func (c SubmitOrder) initialized(ts int64) model.OrderEvent {
	tif := c.TimeInForce
	if !tif.IsAvailable() {
		tif = enum.TimeInForceGTC
	}
	return model.OrderEvent{
		Kind:          model.OrderEventInitialized,
		ClientOrderID: c.ClientOrderID,
		InstrumentID:  c.InstrumentID,
		StrategyID:    c.StrategyID,
		TraderID:      c.TraderID,
		AccountID:     c.AccountID,
		Init: &model.OrderInit{
			Side:         c.Side,
			Type:         c.Type,
			Quantity:     c.Quantity,
			Price:        c.Price,
			TriggerPrice: c.TriggerPrice,
			TimeInForce:  tif,
			ExpireTime:   c.ExpireTime,
			PostOnly:     c.PostOnly,
			ReduceOnly:   c.ReduceOnly,
			Tags:         c.Tags,
		},
		TsEvent: ts,
		TsInit:  ts,
	}
}

// CancelOrder asks the venue to cancel a working order.
type CancelOrder struct {
	TraderID      model.TraderID      `json:"trader_id"`
	StrategyID    model.StrategyID    `json:"strategy_id"`
	InstrumentID  model.InstrumentID  `json:"instrument_id"`
	ClientOrderID model.ClientOrderID `json:"client_order_id"`
}
