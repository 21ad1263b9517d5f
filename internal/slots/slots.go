// Package slots derives the per-slot state the screens render. State is
// recomputed from the slot snapshot and the clock on every evaluation and is
// never mutated in place.
package slots

import (
	"fmt"
	"time"

	"lunch-tg-app/internal/models"
	"lunch-tg-app/internal/orderutil"
)

// State is the derived lifecycle position of one delivery slot.
type State string

const (
	// StateLobbyForming: lobby-gated, not yet activated, lobby deadline
	// still ahead. Join/leave are the only actions.
	StateLobbyForming State = "lobby_forming"
	// StateLobbyExpired: the lobby never reached its minimum. Terminal.
	StateLobbyExpired State = "lobby_expired"
	// StateActivated: the lobby opened for ordering.
	StateActivated State = "activated"
	// StateSimpleOpen: a non-lobby slot accepting orders.
	StateSimpleOpen State = "open"
	// StateClosed: not orderable (unavailable or past deadline).
	StateClosed State = "closed"
)

// View is everything a screen needs to render one slot.
type View struct {
	Slot       models.DeliverySlot `json:"slot"`
	State      State               `json:"state"`
	Selectable bool                `json:"selectable"`
	CanJoin    bool                `json:"canJoin"`
	CanLeave   bool                `json:"canLeave"`
	HasOrder   bool                `json:"hasOrder"`
	Label      string              `json:"label"`
}

func hasOrderIn(slotID string, userOrderSlotIDs []string) bool {
	for _, id := range userOrderSlotIDs {
		if id == slotID {
			return true
		}
	}
	return false
}

// Derive computes the slot view. A slot the user already holds an order in
// stays selectable regardless of deadlines: the UI must never hide a slot
// the user has committed to.
func Derive(slot models.DeliverySlot, timezone string, now time.Time, userOrderSlotIDs []string) View {
	view := View{
		Slot:     slot,
		HasOrder: hasOrderIn(slot.ID, userOrderSlotIDs),
	}
	deadlineOver := orderutil.IsDeadlinePassedAt(slot.Deadline, timezone, now)

	if slot.HasLobby() {
		switch {
		case !slot.IsActivated && !orderutil.IsDeadlinePassedAt(slot.LobbyDeadline, timezone, now):
			view.State = StateLobbyForming
			view.CanJoin = !slot.UserInLobby
			view.CanLeave = slot.UserInLobby
			view.Label = fmt.Sprintf("%d из %d участников, сбор до %s",
				*slot.CurrentParticipants, *slot.MinParticipants, slot.LobbyDeadline)
		case !slot.IsActivated:
			view.State = StateLobbyExpired
			view.Label = "Слот отменён"
		default:
			view.State = StateActivated
			view.Selectable = !deadlineOver
			view.Label = "Принять заказ до " + slot.Deadline
		}
	} else {
		if slot.IsAvailable && !deadlineOver {
			view.State = StateSimpleOpen
			view.Selectable = true
			view.Label = "Принять заказ до " + slot.Deadline
		} else {
			view.State = StateClosed
			view.Label = "Недоступно"
		}
	}

	if view.HasOrder {
		view.Selectable = true
	}
	return view
}

// DeriveAll maps Derive over a slot list.
func DeriveAll(all []models.DeliverySlot, timezone string, now time.Time, userOrderSlotIDs []string) []View {
	views := make([]View, 0, len(all))
	for _, slot := range all {
		views = append(views, Derive(slot, timezone, now, userOrderSlotIDs))
	}
	return views
}

// AvailableCount is the number of slots still accepting new orders.
func AvailableCount(all []models.DeliverySlot, timezone string, now time.Time) int {
	count := 0
	for _, slot := range all {
		if slot.IsAvailable && !orderutil.IsDeadlinePassedAt(slot.Deadline, timezone, now) {
			count++
		}
	}
	return count
}
