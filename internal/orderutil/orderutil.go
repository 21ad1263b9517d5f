// Package orderutil holds the pure deadline and price arithmetic shared by
// the store, the slot state machine and the screens.
package orderutil

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"lunch-tg-app/internal/models"
)

const (
	// DiscountPercent is applied to every order subtotal.
	DiscountPercent = 10
	// CancelDeadline is the default HH:MM cutoff used when no slot is selected.
	CancelDeadline = "10:30"
	// DefaultTimezone is used until /api/config reports one.
	DefaultTimezone = "Europe/Moscow"
)

// FallbackSlots keeps the app usable when the backend is unreachable.
var FallbackSlots = []models.DeliverySlot{
	{ID: "09:00", Time: "09:00", Deadline: "06:30", IsAvailable: false},
	{ID: "13:00", Time: "12:00", Deadline: "09:30", IsAvailable: true},
	{ID: "18:00", Time: "18:00", Deadline: "15:30", IsAvailable: false},
}

// Totals is the breakdown shown at checkout. Delivery is zero in the current
// pricing model: each participant pays only their own discounted subtotal.
type Totals struct {
	Subtotal          int64 `json:"subtotal"`
	Discount          int64 `json:"discount"`
	DeliveryCost      int64 `json:"deliveryCost"`
	DeliveryPerPerson int64 `json:"deliveryPerPerson"`
	Total             int64 `json:"total"`
}

// CalculateOrderTotals computes the checkout breakdown for one cart.
// participantCount is accepted for the per-person delivery split but is
// unused while delivery is free.
func CalculateOrderTotals(cart []models.CartItem, participantCount int) Totals {
	_ = participantCount

	var subtotal int64
	for _, entry := range cart {
		subtotal += entry.Item.Price * int64(entry.Qty)
	}
	discount := int64(math.Round(float64(subtotal) * DiscountPercent / 100))
	total := subtotal - discount
	if total < 0 {
		total = 0
	}
	return Totals{
		Subtotal: subtotal,
		Discount: discount,
		Total:    total,
	}
}

// FormatPrice renders a whole-ruble amount. No fractional handling.
func FormatPrice(amount int64) string {
	return fmt.Sprintf("%d ₽", amount)
}

// parseHHMM returns minutes since midnight, or an error for malformed input.
func parseHHMM(value string) (int, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad time %q", value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("bad time %q", value)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("bad time %q", value)
	}
	return hours*60 + minutes, nil
}

// nowMinutes is the wall-clock position of now in the given IANA timezone,
// in minutes since midnight. An unknown timezone falls back to UTC, matching
// how the backend treats a missing config.
func nowMinutes(timezone string, now time.Time) int {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return local.Hour()*60 + local.Minute()
}

// IsDeadlinePassedAt compares now against a same-day HH:MM deadline in the
// given timezone. Deadlines are always interpreted as "today"; there is no
// date-crossing logic. A malformed deadline counts as passed so that a broken
// slot can never be ordered into.
func IsDeadlinePassedAt(deadline, timezone string, now time.Time) bool {
	deadlineMinutes, err := parseHHMM(deadline)
	if err != nil {
		return true
	}
	return nowMinutes(timezone, now) > deadlineMinutes
}

// IsDeadlinePassed is IsDeadlinePassedAt against the system clock.
func IsDeadlinePassed(deadline, timezone string) bool {
	return IsDeadlinePassedAt(deadline, timezone, time.Now())
}

// IsCancelDeadlinePassedAt checks the default cancellation cutoff.
func IsCancelDeadlinePassedAt(timezone string, now time.Time) bool {
	return IsDeadlinePassedAt(CancelDeadline, timezone, now)
}
