package order

import (
	"context"
	"time"

	"tradecore/internal/execution"
	"tradecore/internal/model"
)

// Delegator talks to one venue. Every call is a single attempt; the
// gateway owns rate limiting and retries. Errors should be classified as
// exception.VenueError so the gateway can tell a rejection from an
// unknown outcome.
type Delegator interface {
	Venue() model.Venue
	// Submit places o and returns the venue's view of it.
	Submit(ctx context.Context, o *model.Order) (model.OrderStatusReport, error)
	Cancel(ctx context.Context, o *model.Order) (model.OrderStatusReport, error)
	QueryOrder(ctx context.Context, req execution.QueryRequest) (model.OrderStatusReport, error)
	OpenOrders(ctx context.Context, req execution.OpenOrdersRequest) ([]model.OrderStatusReport, error)
	// MassStatus snapshots orders, fills and positions updated within
	// lookback.
	MassStatus(ctx context.Context, lookback time.Duration) (*model.ExecutionMassStatus, error)
}

// GlobalKey is the limiter key shared by every request to venue.
func GlobalKey(venue model.Venue) string { return string(venue) + ":global" }

// OrdersKey is the limiter key of order placement and cancellation.
func OrdersKey(venue model.Venue) string { return string(venue) + ":orders" }
