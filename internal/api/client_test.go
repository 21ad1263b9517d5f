package api_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lunch-tg-app/internal/api"
	"lunch-tg-app/internal/models"
	"lunch-tg-app/internal/orderutil"
	"lunch-tg-app/internal/stub"
)

func newTestClient(t *testing.T) (*api.Client, *stub.Server) {
	t.Helper()
	backend := stub.New()
	ts := httptest.NewServer(backend.Router())
	t.Cleanup(ts.Close)
	return api.New(ts.URL), backend
}

func intPtr(v int) *int { return &v }

func TestFetchConfig(t *testing.T) {
	client, _ := newTestClient(t)
	cfg := client.FetchConfig(context.Background())
	assert.Equal(t, orderutil.DefaultTimezone, cfg.Timezone)
}

func TestFetchConfigUnreachableFallsBack(t *testing.T) {
	ts := httptest.NewServer(nil)
	ts.Close()
	client := api.New(ts.URL)
	cfg := client.FetchConfig(context.Background())
	assert.Equal(t, orderutil.DefaultTimezone, cfg.Timezone)
}

func TestFetchBuildings(t *testing.T) {
	client, _ := newTestClient(t)
	buildings, err := client.FetchBuildings(context.Background())
	require.NoError(t, err)
	require.Len(t, buildings, 2)
	assert.NotEmpty(t, buildings[0].Name)
}

func TestFetchRestaurantsAppliesDefaults(t *testing.T) {
	client, _ := newTestClient(t)
	restaurants, err := client.FetchRestaurants(context.Background(), 1)
	require.NoError(t, err)
	require.NotEmpty(t, restaurants)
	// The backend only stores id and name; presentational fields are filled
	// client-side.
	assert.Equal(t, "Домашняя кухня", restaurants[0].Cuisine)
	assert.Equal(t, 4.7, restaurants[0].Rating)
	assert.Equal(t, []int64{1}, restaurants[0].BuildingIDs)
}

func TestFetchMenu(t *testing.T) {
	client, _ := newTestClient(t)
	items, err := client.FetchMenu(context.Background(), 1)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	for _, item := range items {
		assert.Equal(t, int64(1), item.RestaurantID)
		assert.NotEmpty(t, item.Category)
		assert.NotEmpty(t, item.Emoji)
		assert.Equal(t, "1 порция", item.Unit)
	}
}

func TestCategoryEmoji(t *testing.T) {
	assert.Equal(t, "🥣", api.CategoryEmoji("Супы"))
	assert.Equal(t, "🍽️", api.CategoryEmoji("Неизвестная категория"))
}

func TestUpsertUserInviteCodes(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.UpsertUser(ctx, 42, api.UserUpsert{InviteCode: "WRONG1"})
	assert.EqualError(t, err, "invalid_invite_code")

	user, err := client.UpsertUser(ctx, 42, api.UserUpsert{Username: "ivan", InviteCode: "OFFICE"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), user.TelegramUserID)
	assert.Equal(t, int64(1), user.BuildingID)

	// Same telegram user keeps the same backend id.
	again, err := client.UpsertUser(ctx, 42, api.UserUpsert{Username: "ivan"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
}

func TestDraftLifecycle(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	draft, err := client.GetDraft(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, draft, "no draft saved yet")

	saved := models.Draft{
		DeliverySlot: "13:00",
		RestaurantID: 1,
		BuildingID:   1,
		Items:        []models.DraftItem{{ID: 101, Name: "Борщ с говядиной", Price: 290, Quantity: 2}},
	}
	require.NoError(t, client.PutDraft(ctx, 42, saved))

	draft, err = client.GetDraft(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, saved, *draft)

	require.NoError(t, client.DeleteDraft(ctx, 42))
	draft, err = client.GetDraft(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, draft)
}

func createTestOrder(t *testing.T, client *api.Client, userID int64, slot string) api.CreatedOrder {
	t.Helper()
	created, err := client.CreateOrder(context.Background(), api.CreateOrderPayload{
		UserID:       userID,
		RestaurantID: 1,
		BuildingID:   1,
		Items:        []models.DraftItem{{ID: 101, Name: "Борщ с говядиной", Price: 290, Quantity: 1}},
		TotalPrice:   261,
		DeliverySlot: slot,
	})
	require.NoError(t, err)
	return created
}

func TestOrderFlow(t *testing.T) {
	client, backend := newTestClient(t)
	ctx := context.Background()

	user, err := client.UpsertUser(ctx, 42, api.UserUpsert{Username: "ivan"})
	require.NoError(t, err)

	created := createTestOrder(t, client, user.ID, "13:00")
	assert.Equal(t, string(models.StatusPending), created.Status)

	// Second live order for the same (slot, building, restaurant) is refused.
	_, err = client.CreateOrder(ctx, api.CreateOrderPayload{
		UserID:       user.ID,
		RestaurantID: 1,
		BuildingID:   1,
		Items:        []models.DraftItem{{ID: 102, Name: "Котлета с пюре", Price: 340, Quantity: 1}},
		TotalPrice:   306,
		DeliverySlot: "13:00",
	})
	assert.EqualError(t, err, "user_order_already_exists_for_slot")

	backend.FailPayments(true)
	assert.EqualError(t, client.PayOrder(ctx, created.ID, 42), "pay_failed")

	backend.FailPayments(false)
	require.NoError(t, client.PayOrder(ctx, created.ID, 42))

	active, err := client.FetchActiveOrder(ctx, 42, "13:00", 1, 1)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, models.StatusConfirmed, active.Status)
	require.Len(t, active.Items, 1)
	assert.Equal(t, "Борщ с говядиной", active.Items[0].Item.Name)

	ids := client.FetchUserOrderSlots(ctx, 42, 1, 1)
	assert.Equal(t, []string{"13:00"}, ids)

	require.NoError(t, client.CancelOrder(ctx, created.ID, 42))
	active, err = client.FetchActiveOrder(ctx, 42, "13:00", 1, 1)
	require.NoError(t, err)
	assert.Nil(t, active, "cancelled order is no longer active")
	assert.Empty(t, client.FetchUserOrderSlots(ctx, 42, 1, 1))
}

func TestDeliverySlotsPersonalized(t *testing.T) {
	client, backend := newTestClient(t)
	ctx := context.Background()

	backend.SetSlots([]models.DeliverySlot{{
		ID:              "18:00",
		Time:            "18:00",
		Deadline:        "15:30",
		IsAvailable:     true,
		LobbyDeadline:   "14:00",
		MinParticipants: intPtr(2),
		CurrentParticipants: intPtr(0),
	}})

	require.NoError(t, client.JoinLobby(ctx, 42, 1, 1, "18:00"))

	slots, err := client.FetchDeliverySlots(ctx, api.SlotQuery{BuildingID: 1, RestaurantID: 1, TelegramUserID: 42})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, 1, *slots[0].CurrentParticipants)
	assert.True(t, slots[0].UserInLobby)
	assert.False(t, slots[0].IsActivated)

	require.NoError(t, client.JoinLobby(ctx, 43, 1, 1, "18:00"))
	slots, err = client.FetchDeliverySlots(ctx, api.SlotQuery{BuildingID: 1, RestaurantID: 1, TelegramUserID: 42})
	require.NoError(t, err)
	assert.Equal(t, 2, *slots[0].CurrentParticipants)
	assert.True(t, slots[0].IsActivated, "minimum reached")

	require.NoError(t, client.LeaveLobby(ctx, 42, 1, 1, "18:00"))
	slots, err = client.FetchDeliverySlots(ctx, api.SlotQuery{BuildingID: 1, RestaurantID: 1, TelegramUserID: 42})
	require.NoError(t, err)
	assert.False(t, slots[0].UserInLobby)
}

func TestFetchGroupOrder(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	first, err := client.UpsertUser(ctx, 42, api.UserUpsert{})
	require.NoError(t, err)
	second, err := client.UpsertUser(ctx, 43, api.UserUpsert{})
	require.NoError(t, err)

	createTestOrder(t, client, first.ID, "13:00")
	cancelled := createTestOrder(t, client, second.ID, "13:00")
	require.NoError(t, client.CancelOrder(ctx, cancelled.ID, 43))

	group, err := client.FetchGroupOrder(ctx, "13:00", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "13:00", group.DeliverySlot)
	assert.Equal(t, 1, group.ParticipantCount, "cancelled order excluded")
	assert.Equal(t, int64(261), group.TotalAmount)
	require.Len(t, group.Orders, 1)
	assert.Equal(t, models.StatusPending, group.Orders[0].Status)
}
