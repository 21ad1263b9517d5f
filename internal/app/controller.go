// Package app wires the session together: auth bootstrap, initial data load
// with fallback, the debounced draft autosave, the group-order refresh keyed
// by the current selection, and the checkout flow.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"lunch-tg-app/internal/api"
	"lunch-tg-app/internal/models"
	"lunch-tg-app/internal/orderutil"
	"lunch-tg-app/internal/services"
	"lunch-tg-app/internal/slots"
	"lunch-tg-app/internal/store"
	"lunch-tg-app/internal/telegram"
	"lunch-tg-app/internal/testdata"
	"lunch-tg-app/internal/ws"
)

// DraftSaveDelay coalesces rapid cart edits into one draft write.
const DraftSaveDelay = 800 * time.Millisecond

// CheckoutState is the order-screen flow position.
type CheckoutState string

const (
	CheckoutReviewing  CheckoutState = "reviewing"
	CheckoutConfirming CheckoutState = "confirming"
)

// Controller is the root coordinator. One instance per session, same
// lifetime as the store it drives.
type Controller struct {
	Store  *store.Store
	Client *api.Client

	notifier       *services.Notifier
	push           *ws.Subscriber
	allowLocalAuth bool

	mu             sync.Mutex
	checkout       CheckoutState
	checkoutBusy   bool
	lobbyBusy      map[string]bool
	draftTimer     *time.Timer
	draftSaveDelay time.Duration
}

// Options carries the optional collaborators.
type Options struct {
	Notifier       *services.Notifier
	AllowLocalAuth bool
}

func NewController(st *store.Store, client *api.Client, opts Options) *Controller {
	return &Controller{
		Store:          st,
		Client:         client,
		notifier:       opts.Notifier,
		push:           ws.NewSubscriber(),
		allowLocalAuth: opts.AllowLocalAuth,
		checkout:       CheckoutReviewing,
		lobbyBusy:      make(map[string]bool),
		draftSaveDelay: DraftSaveDelay,
	}
}

// --- auth ----------------------------------------------------------------

// AuthenticateInitData accepts the raw initData from the Mini App host and
// installs the session identity. The hash is not verified here; that is the
// backend's responsibility.
func (c *Controller) AuthenticateInitData(initData string) error {
	auth, err := telegram.ParseInitData(initData)
	if err != nil {
		return err
	}
	c.Store.SetAuth(auth)
	return nil
}

// AuthenticateLocal installs the test-only identity. Refused unless the
// deployment allows local auth.
func (c *Controller) AuthenticateLocal(user models.TgUser) error {
	auth, err := telegram.NewLocalAuth(user, c.allowLocalAuth)
	if err != nil {
		return err
	}
	c.Store.SetAuth(auth)
	return nil
}

// InviteCode returns the invite code carried in the session's deep link.
func (c *Controller) InviteCode() string {
	auth := c.Store.Auth()
	if auth == nil || auth.Source != models.AuthTelegram {
		return ""
	}
	return telegram.StartParam(auth.InitData)
}

// JoinInvite binds the user to a building via a 6-character invite code.
func (c *Controller) JoinInvite(ctx context.Context, code string) error {
	auth := c.Store.Auth()
	if auth == nil {
		return errors.New("not_authenticated")
	}
	if len(code) != 6 {
		return errors.New("invalid_invite_code")
	}
	user, err := c.Client.UpsertUser(ctx, auth.User.ID, api.UserUpsert{
		Username:   auth.User.Username,
		FirstName:  auth.User.FirstName,
		LastName:   auth.User.LastName,
		InviteCode: code,
	})
	if err != nil {
		return err
	}
	if user.BuildingID != 0 {
		c.Store.SetSelectedBuildingID(user.BuildingID)
	}
	return nil
}

// --- initial load --------------------------------------------------------

func (c *Controller) applyFallbackData() {
	buildingID := testdata.Buildings[0].ID
	restaurants, items := testdata.ForBuilding(buildingID)
	c.Store.SetBuildings(testdata.Buildings)
	c.Store.SetRestaurants(restaurants)
	c.Store.SetMenuItems(items)
	c.Store.SetDeliverySlots(orderutil.FallbackSlots)
	c.Store.SetSelectedBuildingID(buildingID)
	if len(restaurants) > 0 {
		c.Store.SetSelectedRestaurantID(restaurants[0].ID)
	}
}

// LoadAll performs the initial fetch chain. An empty menu gets one bounded
// retry; any failure falls back to the built-in test catalog so the app
// stays usable.
func (c *Controller) LoadAll(ctx context.Context) {
	c.Store.SetAPIState(store.APILoading, "")

	cfg := c.Client.FetchConfig(ctx)
	c.Store.SetTimezone(cfg.Timezone)

	if err := c.loadCatalog(ctx, true); err != nil {
		log.Printf("Initial load failed, using test data: %v", err)
		c.applyFallbackData()
		c.Store.SetAPIState(store.APIError, "Не удалось загрузить данные, использую тестовые данные")
		return
	}

	if err := c.Store.LoadData(ctx, c.Client); err != nil {
		log.Printf("User sync failed: %v", err)
		c.Store.SetAPIState(store.APIError, "Не удалось загрузить данные пользователя")
		return
	}
	c.RefreshUserOrderSlots(ctx)
	c.RefreshGroupOrder(ctx)
	c.Store.SetAPIState(store.APIOK, "")
}

func (c *Controller) loadCatalog(ctx context.Context, retryOnEmptyMenu bool) error {
	buildings, err := c.Client.FetchBuildings(ctx)
	if err != nil {
		return err
	}
	if len(buildings) == 0 {
		return errors.New("no_buildings")
	}
	buildingID := buildings[0].ID

	restaurants, err := c.Client.FetchRestaurants(ctx, buildingID)
	if err != nil {
		return err
	}
	if len(restaurants) == 0 {
		return errors.New("no_restaurants")
	}
	restaurantID := restaurants[0].ID

	auth := c.Store.Auth()
	var telegramUserID int64
	if auth != nil {
		telegramUserID = auth.User.ID
	}
	deliverySlots, err := c.Client.FetchDeliverySlots(ctx, api.SlotQuery{
		BuildingID:     buildingID,
		RestaurantID:   restaurantID,
		TelegramUserID: telegramUserID,
	})
	if err != nil {
		return err
	}

	menu, err := c.Client.FetchMenu(ctx, restaurantID)
	if err != nil {
		return err
	}
	if len(menu) == 0 && retryOnEmptyMenu {
		// One bounded retry: menus are republished around midnight and a
		// request can race the republish.
		menu, err = c.Client.FetchMenu(ctx, restaurantID)
		if err != nil {
			return err
		}
	}
	if len(menu) == 0 {
		restaurants, menu = testdata.ForBuilding(buildingID)
		if len(menu) == 0 {
			return errors.New("empty_menu")
		}
		restaurantID = restaurants[0].ID
	}

	if len(deliverySlots) == 0 {
		deliverySlots = orderutil.FallbackSlots
	}

	c.Store.SetBuildings(buildings)
	c.Store.SetRestaurants(restaurants)
	c.Store.SetMenuItems(menu)
	c.Store.SetDeliverySlots(deliverySlots)
	c.Store.SetSelectedBuildingID(buildingID)
	c.Store.SetSelectedRestaurantID(restaurantID)
	return nil
}

// --- selection and dependent fetches -------------------------------------

// SelectBuilding switches the building and reloads the data scoped to it.
func (c *Controller) SelectBuilding(ctx context.Context, buildingID int64) error {
	c.Store.SetSelectedBuildingID(buildingID)
	restaurants, err := c.Client.FetchRestaurants(ctx, buildingID)
	if err != nil {
		return err
	}
	c.Store.SetRestaurants(restaurants)
	if len(restaurants) > 0 {
		return c.SelectRestaurant(ctx, restaurants[0].ID)
	}
	c.ScheduleDraftSave()
	return nil
}

// SelectRestaurant switches the restaurant and reloads menu and slots.
func (c *Controller) SelectRestaurant(ctx context.Context, restaurantID int64) error {
	c.Store.SetSelectedRestaurantID(restaurantID)
	menu, err := c.Client.FetchMenu(ctx, restaurantID)
	if err != nil {
		return err
	}
	c.Store.SetMenuItems(menu)
	c.RefreshSlots(ctx)
	c.RefreshUserOrderSlots(ctx)
	c.RefreshGroupOrder(ctx)
	c.ScheduleDraftSave()
	return nil
}

// SelectSlot records the slot choice; the slot must be selectable per the
// derived state.
func (c *Controller) SelectSlot(ctx context.Context, slotID string) error {
	snap := c.Store.Snapshot()
	now := time.Now()
	for _, slot := range snap.DeliverySlots {
		if slot.ID != slotID {
			continue
		}
		view := slots.Derive(slot, snap.Timezone, now, snap.UserOrderSlotIDs)
		if !view.Selectable {
			return errors.New("slot_not_selectable")
		}
		c.Store.SetSelectedSlot(slotID)
		c.RefreshGroupOrder(ctx)
		c.ScheduleDraftSave()
		return nil
	}
	return errors.New("slot_not_found")
}

// RefreshSlots refetches the slot snapshots with the personalized flags.
func (c *Controller) RefreshSlots(ctx context.Context) {
	snap := c.Store.Snapshot()
	var telegramUserID int64
	if snap.Auth != nil {
		telegramUserID = snap.Auth.User.ID
	}
	deliverySlots, err := c.Client.FetchDeliverySlots(ctx, api.SlotQuery{
		BuildingID:     snap.SelectedBuildingID,
		RestaurantID:   snap.SelectedRestaurantID,
		TelegramUserID: telegramUserID,
	})
	if err != nil {
		log.Printf("Slot refresh failed: %v", err)
		return
	}
	c.Store.SetDeliverySlots(deliverySlots)
}

// RefreshUserOrderSlots refreshes the "already ordered" slot set that keeps
// committed slots selectable after their deadline.
func (c *Controller) RefreshUserOrderSlots(ctx context.Context) {
	snap := c.Store.Snapshot()
	if snap.Auth == nil || snap.SelectedBuildingID == 0 || snap.SelectedRestaurantID == 0 {
		return
	}
	ids := c.Client.FetchUserOrderSlots(ctx, snap.Auth.User.ID, snap.SelectedBuildingID, snap.SelectedRestaurantID)
	c.Store.SetUserOrderSlotIDs(ids)
}

// RefreshGroupOrder refetches the aggregate for the current triple. The
// response is applied only if the triple is still current when it lands.
func (c *Controller) RefreshGroupOrder(ctx context.Context) {
	slot, buildingID, restaurantID := c.Store.Selection()
	if slot == "" || buildingID == 0 || restaurantID == 0 {
		c.Store.SetGroupOrderFor(slot, buildingID, restaurantID, nil)
		return
	}
	group, err := c.Client.FetchGroupOrder(ctx, slot, buildingID, restaurantID)
	if err != nil {
		log.Printf("Group order refresh failed: %v", err)
		return
	}
	if !c.Store.SetGroupOrderFor(slot, buildingID, restaurantID, &group) {
		log.Printf("Dropped stale group order for slot %s", slot)
	}
}

// --- lobby ---------------------------------------------------------------

// JoinLobby issues the join request and refreshes the slot snapshots. No
// optimistic update: the next fetch reflects the outcome.
func (c *Controller) JoinLobby(ctx context.Context, slotID string) error {
	return c.lobbyAction(ctx, slotID, c.Client.JoinLobby)
}

// LeaveLobby is the inverse of JoinLobby.
func (c *Controller) LeaveLobby(ctx context.Context, slotID string) error {
	return c.lobbyAction(ctx, slotID, c.Client.LeaveLobby)
}

func (c *Controller) lobbyAction(ctx context.Context, slotID string, call func(context.Context, int64, int64, int64, string) error) error {
	snap := c.Store.Snapshot()
	if snap.Auth == nil {
		return errors.New("not_authenticated")
	}

	c.mu.Lock()
	if c.lobbyBusy[slotID] {
		c.mu.Unlock()
		return errors.New("request_in_flight")
	}
	c.lobbyBusy[slotID] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.lobbyBusy, slotID)
		c.mu.Unlock()
	}()

	if err := call(ctx, snap.Auth.User.ID, snap.SelectedBuildingID, snap.SelectedRestaurantID, slotID); err != nil {
		return err
	}
	c.RefreshSlots(ctx)
	return nil
}

// --- checkout flow -------------------------------------------------------

// CheckoutStatus reports the current flow position and whether a submit is
// in flight.
func (c *Controller) CheckoutStatus() (CheckoutState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkout, c.checkoutBusy
}

// MissingCheckoutPreconditions lists, in user terms, everything still
// blocking checkout. Empty means checkout may begin.
func (c *Controller) MissingCheckoutPreconditions() []string {
	snap := c.Store.Snapshot()
	var missing []string
	if snap.Auth == nil {
		missing = append(missing, "авторизоваться в Telegram")
	}
	if snap.APIUser == nil {
		missing = append(missing, "дождаться загрузки профиля")
	}
	if snap.SelectedSlot == "" {
		missing = append(missing, "выбрать слот")
	}
	if snap.SelectedRestaurantID == 0 {
		missing = append(missing, "выбрать ресторан")
	}
	if snap.SelectedBuildingID == 0 {
		missing = append(missing, "выбрать офис")
	}
	for _, slot := range snap.DeliverySlots {
		if slot.ID == snap.SelectedSlot && slot.HasLobby() && !slot.IsActivated {
			missing = append(missing, "дождаться активации слота")
		}
	}
	return missing
}

// BeginCheckout moves reviewing -> confirming when every precondition holds.
func (c *Controller) BeginCheckout() error {
	if missing := c.MissingCheckoutPreconditions(); len(missing) > 0 {
		return errors.New("checkout_preconditions_not_met")
	}
	if len(c.Store.Cart()) == 0 {
		return errors.New("cart_empty")
	}
	c.mu.Lock()
	c.checkout = CheckoutConfirming
	c.mu.Unlock()
	return nil
}

// CancelCheckout returns to reviewing without touching the cart.
func (c *Controller) CancelCheckout() {
	c.mu.Lock()
	if !c.checkoutBusy {
		c.checkout = CheckoutReviewing
	}
	c.mu.Unlock()
}

// ConfirmCheckout submits the order. On failure the flow stays in
// confirming so the user retries without re-entering anything; the busy
// flag blocks double submission.
func (c *Controller) ConfirmCheckout(ctx context.Context) (models.Order, error) {
	c.mu.Lock()
	if c.checkout != CheckoutConfirming {
		c.mu.Unlock()
		return models.Order{}, errors.New("checkout_not_started")
	}
	if c.checkoutBusy {
		c.mu.Unlock()
		return models.Order{}, errors.New("request_in_flight")
	}
	c.checkoutBusy = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.checkoutBusy = false
		c.mu.Unlock()
	}()

	order, err := c.Store.CreateOrder(ctx, c.Client)
	if err != nil {
		return models.Order{}, err
	}

	c.mu.Lock()
	c.checkout = CheckoutReviewing
	c.mu.Unlock()

	c.RefreshUserOrderSlots(ctx)
	c.RefreshGroupOrder(ctx)
	return order, nil
}

// CancelOrder cancels a placed order and refreshes the slot commitments.
func (c *Controller) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.Store.CancelOrder(ctx, c.Client, orderID); err != nil {
		return err
	}
	c.RefreshUserOrderSlots(ctx)
	c.RefreshGroupOrder(ctx)
	return nil
}

// --- draft autosave ------------------------------------------------------

// ScheduleDraftSave arms the debounced draft write. Each call cancels the
// previous timer, so a burst of cart edits produces one PUT.
func (c *Controller) ScheduleDraftSave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draftTimer != nil {
		c.draftTimer.Stop()
	}
	c.draftTimer = time.AfterFunc(c.draftSaveDelay, c.flushDraft)
}

func (c *Controller) flushDraft() {
	auth := c.Store.Auth()
	if auth == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Client.PutDraft(ctx, auth.User.ID, c.Store.Draft()); err != nil {
		log.Printf("Draft save failed: %v", err)
	}
}

// Shutdown cancels the pending autosave timer and the push subscription,
// then writes the draft one last time.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	if c.draftTimer != nil {
		c.draftTimer.Stop()
		c.draftTimer = nil
	}
	c.mu.Unlock()
	c.push.Disconnect()
	c.flushDraft()
}

// --- tracking ------------------------------------------------------------

// PollActiveOrder refreshes the tracked order from the backend and fires a
// notification when its status moved. A response for an order other than the
// one currently tracked is ignored.
func (c *Controller) PollActiveOrder(ctx context.Context) {
	snap := c.Store.Snapshot()
	if snap.Auth == nil || snap.CurrentOrder == nil {
		return
	}
	order, err := c.Client.FetchActiveOrder(ctx, snap.Auth.User.ID,
		snap.CurrentOrder.DeliverySlot, snap.SelectedBuildingID, snap.SelectedRestaurantID)
	if err != nil || order == nil {
		return
	}
	if order.ID != snap.CurrentOrder.ID {
		return // late response for an order that is no longer tracked
	}
	c.applyStatus(order.ID, order.Status)
}

func (c *Controller) applyStatus(orderID string, status models.OrderStatus) {
	if _, changed := c.Store.ApplyOrderStatus(orderID, status); !changed {
		return
	}
	snap := c.Store.Snapshot()
	if snap.Auth == nil {
		return
	}
	for _, order := range snap.OrderHistory {
		if order.ID == orderID {
			c.notifier.NotifyOrderStatus(snap.Auth.User.ID, order)
			return
		}
	}
}

// ConnectPush subscribes to the backend push channel for the current user.
func (c *Controller) ConnectPush(endpoint string) {
	auth := c.Store.Auth()
	if auth == nil || endpoint == "" {
		return
	}
	params := map[string]string{
		"telegram_user_id": strconv.FormatInt(auth.User.ID, 10),
	}
	c.push.Connect(endpoint, params, func(msg ws.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		switch msg.Type {
		case "group_order_update", "participant_joined", "participant_left":
			c.RefreshGroupOrder(ctx)
			c.RefreshSlots(ctx)
		case "order_status_update":
			var data ws.OrderStatusData
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				return
			}
			c.applyStatus(strconv.FormatInt(data.OrderID, 10), models.OrderStatus(data.Status))
		}
	})
}
