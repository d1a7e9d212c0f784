package exception

import "errors"

var (
	ErrOrderNilGateway          = errors.New("order: nil gateway")
	ErrOrderInvalidRequest      = errors.New("order: invalid request")
	ErrOrderUnsupportedVenue    = errors.New("order: unsupported venue")
	ErrOrderInvalidWorkerConfig = errors.New("order: invalid worker config")
	ErrOrderQueueFull           = errors.New("order: queue full")
	ErrOrderNotRunning          = errors.New("order: gateway not running")
)

var (
	ErrOrderDuplicate         = errors.New("order: already exists")
	ErrOrderUnknown           = errors.New("order: not found")
	ErrOrderInvalidTransition = errors.New("order: invalid state transition")
	ErrOrderInvalidFill       = errors.New("order: invalid fill quantity")
	ErrOrderVenueIDChanged    = errors.New("order: venue order id is immutable")
)
