package orderutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lunch-tg-app/internal/models"
)

func cartEntry(price int64, qty int) models.CartItem {
	return models.CartItem{Item: models.MenuItem{Price: price}, Qty: qty}
}

func TestCalculateOrderTotals(t *testing.T) {
	tests := []struct {
		name     string
		cart     []models.CartItem
		subtotal int64
		discount int64
		total    int64
	}{
		{
			name: "empty cart",
		},
		{
			name:     "typical lunch",
			cart:     []models.CartItem{cartEntry(290, 1), cartEntry(340, 1), cartEntry(120, 1)},
			subtotal: 750,
			discount: 75,
			total:    675,
		},
		{
			name:     "discount rounds half up",
			cart:     []models.CartItem{cartEntry(335, 1)},
			subtotal: 335,
			discount: 34,
			total:    301,
		},
		{
			name:     "quantity multiplies",
			cart:     []models.CartItem{cartEntry(200, 3)},
			subtotal: 600,
			discount: 60,
			total:    540,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			totals := CalculateOrderTotals(tt.cart, 1)
			assert.Equal(t, tt.subtotal, totals.Subtotal)
			assert.Equal(t, tt.discount, totals.Discount)
			assert.Equal(t, tt.total, totals.Total)
			assert.Zero(t, totals.DeliveryCost)
			assert.Zero(t, totals.DeliveryPerPerson)
		})
	}
}

func TestCalculateOrderTotalsIgnoresParticipants(t *testing.T) {
	cart := []models.CartItem{cartEntry(500, 1)}
	solo := CalculateOrderTotals(cart, 1)
	group := CalculateOrderTotals(cart, 7)
	assert.Equal(t, solo, group)
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "675 ₽", FormatPrice(675))
	assert.Equal(t, "0 ₽", FormatPrice(0))
}

func TestIsDeadlinePassedAt(t *testing.T) {
	// Times are constructed in UTC; Europe/Moscow is UTC+3 year-round.
	tests := []struct {
		name     string
		deadline string
		timezone string
		now      time.Time
		passed   bool
	}{
		{
			name:     "before deadline",
			deadline: "09:30",
			timezone: "Europe/Moscow",
			now:      time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC), // 09:00 MSK
			passed:   false,
		},
		{
			name:     "after deadline",
			deadline: "09:30",
			timezone: "Europe/Moscow",
			now:      time.Date(2026, 8, 28, 7, 0, 0, 0, time.UTC), // 10:00 MSK
			passed:   true,
		},
		{
			name:     "exactly at deadline still open",
			deadline: "09:30",
			timezone: "Europe/Moscow",
			now:      time.Date(2026, 8, 28, 6, 30, 0, 0, time.UTC), // 09:30 MSK
			passed:   false,
		},
		{
			name:     "malformed deadline counts as passed",
			deadline: "not-a-time",
			timezone: "Europe/Moscow",
			now:      time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
			passed:   true,
		},
		{
			name:     "unknown timezone falls back to UTC",
			deadline: "09:30",
			timezone: "Nowhere/Unknown",
			now:      time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC),
			passed:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.passed, IsDeadlinePassedAt(tt.deadline, tt.timezone, tt.now))
		})
	}
}

func TestIsCancelDeadlinePassedAt(t *testing.T) {
	morning := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)   // 09:00 MSK
	afternoon := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) // 15:00 MSK
	assert.False(t, IsCancelDeadlinePassedAt("Europe/Moscow", morning))
	assert.True(t, IsCancelDeadlinePassedAt("Europe/Moscow", afternoon))
}
