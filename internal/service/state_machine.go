package service

import (
	"errors"
	"fmt"

	"github.com/lokapos/terminal/internal/enum"
)

// Errors surfaced by the order lifecycle. Handlers map these with errors.Is.
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAmountMismatch    = errors.New("payment amount does not match order total")
	ErrAlreadyPaid       = errors.New("order is already paid")
	ErrOrderPaid         = errors.New("paid order must be refunded before cancellation")
	ErrOrderCancelled    = errors.New("order is cancelled")
)

// allowedTransitions is the only source of truth for status flow. PENDING is
// the initial state; SERVED and CANCELLED are terminal.
var allowedTransitions = map[string][]string{
	enum.OrderStatusPending:   {enum.OrderStatusConfirmed, enum.OrderStatusCancelled},
	enum.OrderStatusConfirmed: {enum.OrderStatusPreparing, enum.OrderStatusCancelled},
	enum.OrderStatusPreparing: {enum.OrderStatusReady, enum.OrderStatusCancelled},
	enum.OrderStatusReady:     {enum.OrderStatusServed},
	enum.OrderStatusServed:    {},
	enum.OrderStatusCancelled: {},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to string) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transitionError wraps ErrInvalidTransition with the offending pair so the
// caller sees both the current and the requested status.
func transitionError(from, to string) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func isValidOrderStatus(s string) bool {
	switch s {
	case enum.OrderStatusPending, enum.OrderStatusConfirmed, enum.OrderStatusPreparing,
		enum.OrderStatusReady, enum.OrderStatusServed, enum.OrderStatusCancelled:
		return true
	}
	return false
}
