package app

import (
	"context"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lunch-tg-app/internal/api"
	"lunch-tg-app/internal/models"
	"lunch-tg-app/internal/store"
	"lunch-tg-app/internal/stub"
)

var testUser = models.TgUser{ID: 42, FirstName: "Test"}

func intPtr(v int) *int { return &v }

func newTestController(t *testing.T) (*Controller, *stub.Server) {
	t.Helper()
	backend := stub.New()
	ts := httptest.NewServer(backend.Router())
	t.Cleanup(ts.Close)
	c := NewController(store.New(), api.New(ts.URL), Options{AllowLocalAuth: true})
	t.Cleanup(c.Shutdown)
	return c, backend
}

func selectableSlots() []models.DeliverySlot {
	return []models.DeliverySlot{
		{ID: "13:00", Time: "13:00", Deadline: "23:59", IsAvailable: true},
		{ID: "09:00", Time: "09:00", Deadline: "00:00", IsAvailable: true},
	}
}

func TestAuthenticateLocalGate(t *testing.T) {
	backend := stub.New()
	ts := httptest.NewServer(backend.Router())
	defer ts.Close()

	denied := NewController(store.New(), api.New(ts.URL), Options{})
	assert.EqualError(t, denied.AuthenticateLocal(testUser), "local_auth_disabled")

	allowed := NewController(store.New(), api.New(ts.URL), Options{AllowLocalAuth: true})
	require.NoError(t, allowed.AuthenticateLocal(testUser))
	auth := allowed.Store.Auth()
	require.NotNil(t, auth)
	assert.Equal(t, models.AuthLocal, auth.Source)
}

func TestLoadAllFromBackend(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.AuthenticateLocal(testUser))
	c.LoadAll(context.Background())

	snap := c.Store.Snapshot()
	assert.Equal(t, store.APIOK, snap.APIState)
	assert.Len(t, snap.Buildings, 2)
	assert.Equal(t, int64(1), snap.SelectedBuildingID)
	assert.NotZero(t, snap.SelectedRestaurantID)
	assert.NotEmpty(t, snap.MenuItems)
	assert.Len(t, snap.DeliverySlots, 3, "empty backend slot table falls back to the built-in slots")
	require.NotNil(t, snap.APIUser)
	assert.Equal(t, testUser.ID, snap.APIUser.TelegramUserID)
}

func TestLoadAllFallsBackToTestData(t *testing.T) {
	ts := httptest.NewServer(nil)
	ts.Close()
	c := NewController(store.New(), api.New(ts.URL), Options{AllowLocalAuth: true})
	require.NoError(t, c.AuthenticateLocal(testUser))

	c.LoadAll(context.Background())

	snap := c.Store.Snapshot()
	assert.Equal(t, store.APIError, snap.APIState)
	assert.Equal(t, "Не удалось загрузить данные, использую тестовые данные", snap.APIError)
	assert.NotEmpty(t, snap.Buildings)
	assert.NotEmpty(t, snap.MenuItems)
	assert.NotEmpty(t, snap.DeliverySlots)
}

func TestSelectSlot(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.AuthenticateLocal(testUser))
	c.Store.SetSelectedBuildingID(1)
	c.Store.SetSelectedRestaurantID(1)
	c.Store.SetDeliverySlots(selectableSlots())

	ctx := context.Background()
	require.NoError(t, c.SelectSlot(ctx, "13:00"))
	assert.Equal(t, "13:00", c.Store.Snapshot().SelectedSlot)

	assert.EqualError(t, c.SelectSlot(ctx, "09:00"), "slot_not_selectable")
	assert.EqualError(t, c.SelectSlot(ctx, "21:00"), "slot_not_found")
	assert.Equal(t, "13:00", c.Store.Snapshot().SelectedSlot, "failed selection leaves the old one")
}

func TestSelectSlotWithExistingOrder(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.AuthenticateLocal(testUser))
	c.Store.SetDeliverySlots(selectableSlots())
	c.Store.SetUserOrderSlotIDs([]string{"09:00"})

	// Past deadline, but the user already holds an order there.
	require.NoError(t, c.SelectSlot(context.Background(), "09:00"))
}

func TestMissingCheckoutPreconditions(t *testing.T) {
	c, _ := newTestController(t)
	missing := c.MissingCheckoutPreconditions()
	assert.Contains(t, missing, "авторизоваться в Telegram")
	assert.Contains(t, missing, "выбрать слот")
	assert.Contains(t, missing, "выбрать ресторан")
	assert.Contains(t, missing, "выбрать офис")

	require.NoError(t, c.AuthenticateLocal(testUser))
	c.LoadAll(context.Background())
	c.Store.SetDeliverySlots([]models.DeliverySlot{{
		ID:                  "18:00",
		Time:                "18:00",
		Deadline:            "23:59",
		IsAvailable:         true,
		LobbyDeadline:       "23:00",
		MinParticipants:     intPtr(5),
		CurrentParticipants: intPtr(2),
	}})
	c.Store.SetSelectedSlot("18:00")

	missing = c.MissingCheckoutPreconditions()
	assert.Equal(t, []string{"дождаться активации слота"}, missing)
}

func TestCheckoutFlow(t *testing.T) {
	c, backend := newTestController(t)
	ctx := context.Background()
	require.NoError(t, c.AuthenticateLocal(testUser))
	backend.SetSlots(selectableSlots())
	c.LoadAll(ctx)

	// No slot, empty cart: checkout cannot begin.
	assert.EqualError(t, c.BeginCheckout(), "checkout_preconditions_not_met")

	require.NoError(t, c.SelectSlot(ctx, "13:00"))
	assert.EqualError(t, c.BeginCheckout(), "cart_empty")

	snap := c.Store.Snapshot()
	require.NotEmpty(t, snap.MenuItems)
	c.Store.AddToCart(snap.MenuItems[0])

	require.NoError(t, c.BeginCheckout())
	state, busy := c.CheckoutStatus()
	assert.Equal(t, CheckoutConfirming, state)
	assert.False(t, busy)

	order, err := c.ConfirmCheckout(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, order.Status)

	state, _ = c.CheckoutStatus()
	assert.Equal(t, CheckoutReviewing, state)
	assert.Empty(t, c.Store.Cart())

	_, err = c.ConfirmCheckout(ctx)
	assert.EqualError(t, err, "checkout_not_started")

	// The committed slot is now in the user's order-slot set.
	assert.Contains(t, c.Store.Snapshot().UserOrderSlotIDs, "13:00")
}

func TestConfirmCheckoutStaysConfirmingOnPaymentFailure(t *testing.T) {
	c, backend := newTestController(t)
	ctx := context.Background()
	require.NoError(t, c.AuthenticateLocal(testUser))
	backend.SetSlots(selectableSlots())
	c.LoadAll(ctx)
	require.NoError(t, c.SelectSlot(ctx, "13:00"))
	c.Store.AddToCart(c.Store.Snapshot().MenuItems[0])

	backend.FailPayments(true)
	require.NoError(t, c.BeginCheckout())
	_, err := c.ConfirmCheckout(ctx)
	assert.EqualError(t, err, "pay_failed")

	state, busy := c.CheckoutStatus()
	assert.Equal(t, CheckoutConfirming, state, "user can retry without re-entering the flow")
	assert.False(t, busy)
	assert.NotEmpty(t, c.Store.Cart())

	backend.FailPayments(false)
	order, err := c.ConfirmCheckout(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, order.Status)
}

func TestCancelCheckoutKeepsCart(t *testing.T) {
	c, backend := newTestController(t)
	ctx := context.Background()
	require.NoError(t, c.AuthenticateLocal(testUser))
	backend.SetSlots(selectableSlots())
	c.LoadAll(ctx)
	require.NoError(t, c.SelectSlot(ctx, "13:00"))
	c.Store.AddToCart(c.Store.Snapshot().MenuItems[0])

	require.NoError(t, c.BeginCheckout())
	c.CancelCheckout()
	state, _ := c.CheckoutStatus()
	assert.Equal(t, CheckoutReviewing, state)
	assert.NotEmpty(t, c.Store.Cart())
}

func TestJoinLobby(t *testing.T) {
	c, backend := newTestController(t)
	ctx := context.Background()
	require.NoError(t, c.AuthenticateLocal(testUser))
	backend.SetSlots([]models.DeliverySlot{{
		ID:                  "18:00",
		Time:                "18:00",
		Deadline:            "23:59",
		IsAvailable:         true,
		LobbyDeadline:       "23:00",
		MinParticipants:     intPtr(2),
		CurrentParticipants: intPtr(0),
	}})
	c.LoadAll(ctx)

	require.NoError(t, c.JoinLobby(ctx, "18:00"))
	snap := c.Store.Snapshot()
	require.Len(t, snap.DeliverySlots, 1)
	assert.True(t, snap.DeliverySlots[0].UserInLobby)
	assert.Equal(t, 1, *snap.DeliverySlots[0].CurrentParticipants)

	require.NoError(t, c.LeaveLobby(ctx, "18:00"))
	snap = c.Store.Snapshot()
	assert.False(t, snap.DeliverySlots[0].UserInLobby)
}

func TestDraftAutosaveDebounce(t *testing.T) {
	c, _ := newTestController(t)
	c.draftSaveDelay = 30 * time.Millisecond
	ctx := context.Background()
	require.NoError(t, c.AuthenticateLocal(testUser))
	c.LoadAll(ctx)

	snap := c.Store.Snapshot()
	require.NotEmpty(t, snap.MenuItems)
	c.Store.AddToCart(snap.MenuItems[0])
	c.ScheduleDraftSave()
	c.Store.AddToCart(snap.MenuItems[0])
	c.ScheduleDraftSave()

	time.Sleep(150 * time.Millisecond)

	draft, err := c.Client.GetDraft(ctx, testUser.ID)
	require.NoError(t, err)
	require.NotNil(t, draft)
	require.Len(t, draft.Items, 1)
	assert.Equal(t, 2, draft.Items[0].Quantity, "only the final cart state is written")
}

func TestPollActiveOrderAppliesStatus(t *testing.T) {
	c, backend := newTestController(t)
	ctx := context.Background()
	require.NoError(t, c.AuthenticateLocal(testUser))
	backend.SetSlots(selectableSlots())
	c.LoadAll(ctx)
	require.NoError(t, c.SelectSlot(ctx, "13:00"))
	c.Store.AddToCart(c.Store.Snapshot().MenuItems[0])
	require.NoError(t, c.BeginCheckout())
	order, err := c.ConfirmCheckout(ctx)
	require.NoError(t, err)

	orderID, err := strconv.ParseInt(order.ID, 10, 64)
	require.NoError(t, err)
	backend.SetOrderStatus(orderID, models.StatusPreparing)

	c.PollActiveOrder(ctx)
	snap := c.Store.Snapshot()
	require.NotNil(t, snap.CurrentOrder)
	assert.Equal(t, models.StatusPreparing, snap.CurrentOrder.Status)
}

func TestCancelOrderClearsCommitment(t *testing.T) {
	c, backend := newTestController(t)
	ctx := context.Background()
	require.NoError(t, c.AuthenticateLocal(testUser))
	backend.SetSlots(selectableSlots())
	c.LoadAll(ctx)
	require.NoError(t, c.SelectSlot(ctx, "13:00"))
	c.Store.AddToCart(c.Store.Snapshot().MenuItems[0])
	require.NoError(t, c.BeginCheckout())
	order, err := c.ConfirmCheckout(ctx)
	require.NoError(t, err)

	require.NoError(t, c.CancelOrder(ctx, order.ID))
	snap := c.Store.Snapshot()
	assert.Nil(t, snap.CurrentOrder)
	assert.NotContains(t, snap.UserOrderSlotIDs, "13:00")
}
