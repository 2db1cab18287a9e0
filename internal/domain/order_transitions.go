package domain

import "slices"

// AllowedNext returns the statuses reachable from s. Terminal statuses return nil.
// The switch is exhaustive over the OrderStatus constants so new statuses fail
// loudly in review rather than silently becoming unreachable.
func (s OrderStatus) AllowedNext() []OrderStatus {
	switch s {
	case OrderStatusPending:
		return []OrderStatus{OrderStatusProcessing, OrderStatusCancelled}
	case OrderStatusProcessing:
		return []OrderStatus{OrderStatusAwaitingShipment, OrderStatusShipped, OrderStatusCancelled}
	case OrderStatusAwaitingShipment:
		return []OrderStatus{OrderStatusShipped, OrderStatusCancelled}
	case OrderStatusShipped:
		return []OrderStatus{OrderStatusDelivered, OrderStatusCancelled}
	case OrderStatusDelivered:
		return []OrderStatus{OrderStatusRefunded}
	case OrderStatusCancelled, OrderStatusRefunded:
		return nil
	default:
		return nil
	}
}

// CanTransitionTo reports whether target is a legal next status for s.
// A status never transitions to itself; duplicate admin submissions are rejected.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	if s == target {
		return false
	}
	return slices.Contains(s.AllowedNext(), target)
}

// IsTerminal reports whether s admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return len(s.AllowedNext()) == 0 && s.IsValid()
}

// IsValid reports whether s is one of the known order statuses.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusAwaitingShipment,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// OrderStatuses lists every known status, in lifecycle order.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusProcessing,
		OrderStatusAwaitingShipment,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancelled,
		OrderStatusRefunded,
	}
}
