package msgbus

import (
	"github.com/yanun0323/errors"

	"tradecore/pkg/exception"
)

// ErrCancelled marks a handler that stopped on purpose. It terminates only
// its own task.
var ErrCancelled = exception.ErrBusCancelled

// Cancel returns an error that finishes a handler as cancelled.
func Cancel(reason string) error {
	return errors.Wrap(ErrCancelled, reason)
}
