package slots

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lunch-tg-app/internal/models"
	"lunch-tg-app/internal/orderutil"
)

const tz = "Europe/Moscow"

// 12:00 MSK — a mid-day reference point for every scenario.
var noon = time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func lobbySlot(min, current int, lobbyDeadline string) models.DeliverySlot {
	return models.DeliverySlot{
		ID:                  "18:00",
		Time:                "18:00",
		Deadline:            "15:30",
		IsAvailable:         true,
		LobbyDeadline:       lobbyDeadline,
		MinParticipants:     intPtr(min),
		CurrentParticipants: intPtr(current),
	}
}

func TestDeriveSimpleSlot(t *testing.T) {
	open := models.DeliverySlot{ID: "13:00", Time: "13:00", Deadline: "14:30", IsAvailable: true}
	view := Derive(open, tz, noon, nil)
	assert.Equal(t, StateSimpleOpen, view.State)
	assert.True(t, view.Selectable)
	assert.Equal(t, "Принять заказ до 14:30", view.Label)

	past := models.DeliverySlot{ID: "09:00", Time: "09:00", Deadline: "06:30", IsAvailable: true}
	view = Derive(past, tz, noon, nil)
	assert.Equal(t, StateClosed, view.State)
	assert.False(t, view.Selectable)
	assert.Equal(t, "Недоступно", view.Label)

	unavailable := models.DeliverySlot{ID: "13:00", Time: "13:00", Deadline: "14:30", IsAvailable: false}
	assert.Equal(t, StateClosed, Derive(unavailable, tz, noon, nil).State)
}

func TestDeriveLobbyForming(t *testing.T) {
	slot := lobbySlot(5, 3, "14:00")
	view := Derive(slot, tz, noon, nil)
	assert.Equal(t, StateLobbyForming, view.State)
	assert.False(t, view.Selectable)
	assert.True(t, view.CanJoin)
	assert.False(t, view.CanLeave)
	assert.Equal(t, "3 из 5 участников, сбор до 14:00", view.Label)

	slot.UserInLobby = true
	view = Derive(slot, tz, noon, nil)
	assert.False(t, view.CanJoin)
	assert.True(t, view.CanLeave)
}

func TestDeriveLobbyExpired(t *testing.T) {
	slot := lobbySlot(5, 3, "10:00") // lobby deadline already behind noon
	view := Derive(slot, tz, noon, nil)
	assert.Equal(t, StateLobbyExpired, view.State)
	assert.False(t, view.Selectable)
	assert.False(t, view.CanJoin)
	assert.Equal(t, "Слот отменён", view.Label)
}

func TestDeriveLobbyActivated(t *testing.T) {
	slot := lobbySlot(5, 5, "10:00")
	slot.IsActivated = true
	view := Derive(slot, tz, noon, nil)
	assert.Equal(t, StateActivated, view.State)
	assert.True(t, view.Selectable)
	assert.Equal(t, "Принять заказ до 15:30", view.Label)

	slot.Deadline = "11:00" // ordering window over
	view = Derive(slot, tz, noon, nil)
	assert.Equal(t, StateActivated, view.State)
	assert.False(t, view.Selectable)
}

func TestDeriveExistingOrderKeepsSlotSelectable(t *testing.T) {
	closed := models.DeliverySlot{ID: "09:00", Time: "09:00", Deadline: "06:30", IsAvailable: false}
	view := Derive(closed, tz, noon, []string{"09:00"})
	assert.Equal(t, StateClosed, view.State)
	assert.True(t, view.HasOrder)
	assert.True(t, view.Selectable)

	view = Derive(closed, tz, noon, []string{"13:00"})
	assert.False(t, view.HasOrder)
	assert.False(t, view.Selectable)
}

func TestAvailableCount(t *testing.T) {
	// Of the fallback slots only 13:00 is available, and its 09:30 deadline
	// is behind noon.
	assert.Equal(t, 0, AvailableCount(orderutil.FallbackSlots, tz, noon))

	morning := time.Date(2026, 8, 28, 5, 0, 0, 0, time.UTC) // 08:00 MSK
	assert.Equal(t, 1, AvailableCount(orderutil.FallbackSlots, tz, morning))
}

func TestDeriveAll(t *testing.T) {
	views := DeriveAll(orderutil.FallbackSlots, tz, noon, nil)
	assert.Len(t, views, len(orderutil.FallbackSlots))
	for i, view := range views {
		assert.Equal(t, orderutil.FallbackSlots[i].ID, view.Slot.ID)
	}
}
