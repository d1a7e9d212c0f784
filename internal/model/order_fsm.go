package model

import "tradecore/internal/model/enum"

type transition struct {
	from enum.OrderStatus
	to   enum.OrderStatus
}

// legalTransitions lists every status change an order may make. Fills may
// race a cancel at the venue, so Canceled still accepts fills.
var legalTransitions = func() map[transition]struct{} {
	m := make(map[transition]struct{})
	add := func(from enum.OrderStatus, to ...enum.OrderStatus) {
		for _, t := range to {
			m[transition{from: from, to: t}] = struct{}{}
		}
	}
	add(enum.OrderStatusInitialized,
		enum.OrderStatusDenied, enum.OrderStatusEmulated, enum.OrderStatusReleased,
		enum.OrderStatusSubmitted, enum.OrderStatusRejected, enum.OrderStatusAccepted,
		enum.OrderStatusCanceled, enum.OrderStatusExpired, enum.OrderStatusTriggered,
	)
	add(enum.OrderStatusEmulated,
		enum.OrderStatusCanceled, enum.OrderStatusExpired, enum.OrderStatusReleased,
	)
	add(enum.OrderStatusReleased,
		enum.OrderStatusSubmitted, enum.OrderStatusDenied, enum.OrderStatusCanceled,
	)
	add(enum.OrderStatusSubmitted,
		enum.OrderStatusPendingUpdate, enum.OrderStatusPendingCancel, enum.OrderStatusRejected,
		enum.OrderStatusCanceled, enum.OrderStatusAccepted, enum.OrderStatusTriggered,
		enum.OrderStatusPartiallyFilled, enum.OrderStatusFilled,
	)
	add(enum.OrderStatusAccepted,
		enum.OrderStatusRejected, enum.OrderStatusPendingUpdate, enum.OrderStatusPendingCancel,
		enum.OrderStatusCanceled, enum.OrderStatusTriggered, enum.OrderStatusExpired,
		enum.OrderStatusPartiallyFilled, enum.OrderStatusFilled,
	)
	add(enum.OrderStatusCanceled,
		enum.OrderStatusPartiallyFilled, enum.OrderStatusFilled,
	)
	add(enum.OrderStatusPendingUpdate,
		enum.OrderStatusRejected, enum.OrderStatusAccepted, enum.OrderStatusCanceled,
		enum.OrderStatusExpired, enum.OrderStatusTriggered, enum.OrderStatusPendingUpdate,
		enum.OrderStatusPendingCancel, enum.OrderStatusPartiallyFilled, enum.OrderStatusFilled,
	)
	add(enum.OrderStatusPendingCancel,
		enum.OrderStatusRejected, enum.OrderStatusPendingCancel, enum.OrderStatusCanceled,
		enum.OrderStatusExpired, enum.OrderStatusAccepted, enum.OrderStatusPartiallyFilled,
		enum.OrderStatusFilled,
	)
	add(enum.OrderStatusTriggered,
		enum.OrderStatusRejected, enum.OrderStatusPendingUpdate, enum.OrderStatusPendingCancel,
		enum.OrderStatusCanceled, enum.OrderStatusExpired, enum.OrderStatusPartiallyFilled,
		enum.OrderStatusFilled,
	)
	add(enum.OrderStatusPartiallyFilled,
		enum.OrderStatusPendingUpdate, enum.OrderStatusPendingCancel, enum.OrderStatusCanceled,
		enum.OrderStatusExpired, enum.OrderStatusPartiallyFilled, enum.OrderStatusFilled,
	)
	return m
}()

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to enum.OrderStatus) bool {
	_, ok := legalTransitions[transition{from: from, to: to}]
	return ok
}
