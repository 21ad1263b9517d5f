// Package store holds the single per-session application state. One instance
// is created at startup and passed by reference; its methods are the only
// mutation surface. All reference data inside it is a refreshable cache of
// server-owned state; only the cart and the current selection are truly
// client-owned, and only until checkout succeeds.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"lunch-tg-app/internal/api"
	"lunch-tg-app/internal/models"
	"lunch-tg-app/internal/orderutil"
)

// APIState mirrors the coarse data-source state shown in the UI.
type APIState string

const (
	APIIdle    APIState = "idle"
	APILoading APIState = "loading"
	APIOK      APIState = "ok"
	APIError   APIState = "error"
)

type Store struct {
	mu sync.Mutex

	now      func() time.Time
	timezone string

	auth    *models.TgAuth
	apiUser *api.APIUser

	buildings     []models.Building
	restaurants   []models.Restaurant
	menuItems     []models.MenuItem
	deliverySlots []models.DeliverySlot

	selectedBuildingID   int64
	selectedRestaurantID int64
	selectedSlot         string

	cart []models.CartItem

	currentOrder     *models.Order
	orderHistory     []models.Order
	groupOrder       *models.GroupOrder
	userOrderSlotIDs []string

	apiState APIState
	apiError string
}

func New() *Store {
	return &Store{
		now:      time.Now,
		timezone: orderutil.DefaultTimezone,
		apiState: APIIdle,
	}
}

// SetClock replaces the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Snapshot is an immutable copy of the state for rendering. Screens read
// snapshots; they never touch the store fields directly.
type Snapshot struct {
	Timezone             string
	Auth                 *models.TgAuth
	APIUser              *api.APIUser
	Buildings            []models.Building
	Restaurants          []models.Restaurant
	MenuItems            []models.MenuItem
	DeliverySlots        []models.DeliverySlot
	SelectedBuildingID   int64
	SelectedRestaurantID int64
	SelectedSlot         string
	Cart                 []models.CartItem
	CurrentOrder         *models.Order
	OrderHistory         []models.Order
	GroupOrder           *models.GroupOrder
	UserOrderSlotIDs     []string
	APIState             APIState
	APIError             string
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Timezone:             s.timezone,
		Buildings:            append([]models.Building(nil), s.buildings...),
		Restaurants:          append([]models.Restaurant(nil), s.restaurants...),
		MenuItems:            append([]models.MenuItem(nil), s.menuItems...),
		DeliverySlots:        append([]models.DeliverySlot(nil), s.deliverySlots...),
		SelectedBuildingID:   s.selectedBuildingID,
		SelectedRestaurantID: s.selectedRestaurantID,
		SelectedSlot:         s.selectedSlot,
		Cart:                 append([]models.CartItem(nil), s.cart...),
		OrderHistory:         append([]models.Order(nil), s.orderHistory...),
		UserOrderSlotIDs:     append([]string(nil), s.userOrderSlotIDs...),
		APIState:             s.apiState,
		APIError:             s.apiError,
	}
	if s.auth != nil {
		auth := *s.auth
		snap.Auth = &auth
	}
	if s.apiUser != nil {
		user := *s.apiUser
		snap.APIUser = &user
	}
	if s.currentOrder != nil {
		order := *s.currentOrder
		snap.CurrentOrder = &order
	}
	if s.groupOrder != nil {
		group := *s.groupOrder
		snap.GroupOrder = &group
	}
	return snap
}

// --- plain setters -------------------------------------------------------

func (s *Store) SetAuth(auth *models.TgAuth) { s.mu.Lock(); s.auth = auth; s.mu.Unlock() }

func (s *Store) Auth() *models.TgAuth {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auth == nil {
		return nil
	}
	auth := *s.auth
	return &auth
}

func (s *Store) SetTimezone(tz string) { s.mu.Lock(); s.timezone = tz; s.mu.Unlock() }

func (s *Store) Timezone() string { s.mu.Lock(); defer s.mu.Unlock(); return s.timezone }

func (s *Store) SetBuildings(b []models.Building)        { s.mu.Lock(); s.buildings = b; s.mu.Unlock() }
func (s *Store) SetRestaurants(r []models.Restaurant)    { s.mu.Lock(); s.restaurants = r; s.mu.Unlock() }
func (s *Store) SetMenuItems(m []models.MenuItem)        { s.mu.Lock(); s.menuItems = m; s.mu.Unlock() }
func (s *Store) SetDeliverySlots(d []models.DeliverySlot) { s.mu.Lock(); s.deliverySlots = d; s.mu.Unlock() }
func (s *Store) SetUserOrderSlotIDs(ids []string)        { s.mu.Lock(); s.userOrderSlotIDs = ids; s.mu.Unlock() }

func (s *Store) SetAPIState(state APIState, errMsg string) {
	s.mu.Lock()
	s.apiState = state
	s.apiError = errMsg
	s.mu.Unlock()
}

func (s *Store) SetSelectedBuildingID(id int64)   { s.mu.Lock(); s.selectedBuildingID = id; s.mu.Unlock() }
func (s *Store) SetSelectedRestaurantID(id int64) { s.mu.Lock(); s.selectedRestaurantID = id; s.mu.Unlock() }
func (s *Store) SetSelectedSlot(id string)        { s.mu.Lock(); s.selectedSlot = id; s.mu.Unlock() }

// Selection returns the (slot, building, restaurant) triple that keys the
// group-order aggregate.
func (s *Store) Selection() (slot string, buildingID, restaurantID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedSlot, s.selectedBuildingID, s.selectedRestaurantID
}

// SetGroupOrderFor stores the aggregate only when the selection triple still
// matches the one the response was fetched for. Late responses for a stale
// triple are dropped.
func (s *Store) SetGroupOrderFor(slot string, buildingID, restaurantID int64, group *models.GroupOrder) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedSlot != slot || s.selectedBuildingID != buildingID || s.selectedRestaurantID != restaurantID {
		return false
	}
	s.groupOrder = group
	return true
}

// --- cart ---------------------------------------------------------------

// AddToCart increments an existing entry or appends a new one with qty 1.
func (s *Store) AddToCart(item models.MenuItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.cart {
		if s.cart[i].Item.ID == item.ID {
			s.cart[i].Qty++
			return
		}
	}
	s.cart = append(s.cart, models.CartItem{Item: item, Qty: 1})
}

// UpdateCartQty applies delta to one entry and removes it when the result
// drops to zero or below. No entry ever stays in the cart with qty <= 0.
func (s *Store) UpdateCartQty(itemID int64, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.cart[:0]
	for _, entry := range s.cart {
		if entry.Item.ID == itemID {
			entry.Qty += delta
		}
		if entry.Qty > 0 {
			kept = append(kept, entry)
		}
	}
	s.cart = kept
}

func (s *Store) ClearCart() { s.mu.Lock(); s.cart = nil; s.mu.Unlock() }

func (s *Store) Cart() []models.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CartItem(nil), s.cart...)
}

// --- derived actions ----------------------------------------------------

// LoadData upserts the server-side user record and restores the saved draft.
// A draft slot whose deadline already passed is discarded while building,
// restaurant and cart are still restored: an expired slot must never
// silently re-enter the active selection.
func (s *Store) LoadData(ctx context.Context, client *api.Client) error {
	auth := s.Auth()
	if auth == nil {
		return nil
	}

	s.mu.Lock()
	buildingID := s.selectedBuildingID
	s.mu.Unlock()

	user, err := client.UpsertUser(ctx, auth.User.ID, api.UserUpsert{
		Username:   auth.User.Username,
		FirstName:  auth.User.FirstName,
		LastName:   auth.User.LastName,
		BuildingID: buildingID,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.apiUser = &user
	s.mu.Unlock()

	draft, err := client.GetDraft(ctx, auth.User.ID)
	if err != nil {
		return err
	}
	if draft == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if draft.BuildingID != 0 {
		s.selectedBuildingID = draft.BuildingID
	}
	if draft.RestaurantID != 0 {
		s.selectedRestaurantID = draft.RestaurantID
	}
	if draft.DeliverySlot != "" {
		expired := false
		for _, slot := range s.deliverySlots {
			if slot.ID == draft.DeliverySlot && orderutil.IsDeadlinePassedAt(slot.Deadline, s.timezone, s.now()) {
				expired = true
				break
			}
		}
		if expired {
			s.selectedSlot = ""
		} else {
			s.selectedSlot = draft.DeliverySlot
		}
	}
	if len(draft.Items) > 0 {
		restored := make([]models.CartItem, 0, len(draft.Items))
		for _, row := range draft.Items {
			qty := row.Quantity
			if qty <= 0 {
				qty = 1
			}
			restored = append(restored, models.CartItem{
				Item: models.MenuItem{
					ID:           row.ID,
					RestaurantID: draft.RestaurantID,
					Name:         row.Name,
					Price:        row.Price,
					Unit:         "1 порция",
					Category:     "Другое",
					Emoji:        "🍽️",
				},
				Qty: qty,
			})
		}
		s.cart = restored
	}
	return nil
}

// CreateOrder validates the checkout preconditions, creates and pays the
// order, and rolls the order back server-side when payment fails so a
// dangling unpaid order is never left behind.
func (s *Store) CreateOrder(ctx context.Context, client *api.Client) (models.Order, error) {
	s.mu.Lock()
	auth := s.auth
	apiUser := s.apiUser
	slot := s.selectedSlot
	restaurantID := s.selectedRestaurantID
	buildingID := s.selectedBuildingID
	cart := append([]models.CartItem(nil), s.cart...)
	s.mu.Unlock()

	var missing []string
	if auth == nil {
		missing = append(missing, "авторизация")
	}
	if apiUser == nil {
		missing = append(missing, "профиль пользователя")
	}
	if slot == "" {
		missing = append(missing, "слот доставки")
	}
	if restaurantID == 0 {
		missing = append(missing, "ресторан")
	}
	if buildingID == 0 {
		missing = append(missing, "офис")
	}
	if len(cart) == 0 {
		missing = append(missing, "позиции в корзине")
	}
	if len(missing) > 0 {
		return models.Order{}, fmt.Errorf("Не хватает данных для заказа: %s", strings.Join(missing, ", "))
	}

	totals := orderutil.CalculateOrderTotals(cart, 1)
	items := make([]models.DraftItem, 0, len(cart))
	for _, entry := range cart {
		items = append(items, models.DraftItem{
			ID:       entry.Item.ID,
			Name:     entry.Item.Name,
			Price:    entry.Item.Price,
			Quantity: entry.Qty,
		})
	}

	created, err := client.CreateOrder(ctx, api.CreateOrderPayload{
		UserID:       apiUser.ID,
		RestaurantID: restaurantID,
		BuildingID:   buildingID,
		Items:        items,
		TotalPrice:   totals.Total,
		DeliverySlot: slot,
	})
	if err != nil {
		return models.Order{}, err
	}

	if err := client.PayOrder(ctx, created.ID, auth.User.ID); err != nil {
		// Compensating cancel: the unpaid order must not linger in the
		// group order. Cancel failures are swallowed, the payment error
		// is the one the user needs to see.
		_ = client.CancelOrder(ctx, created.ID, auth.User.ID)
		return models.Order{}, err
	}

	// The draft served its purpose; a failed delete must not mask a
	// successful order.
	_ = client.DeleteDraft(ctx, auth.User.ID)

	order := models.Order{
		ID:           strconv.FormatInt(created.ID, 10),
		UserID:       apiUser.ID,
		RestaurantID: restaurantID,
		BuildingID:   buildingID,
		Items:        cart,
		TotalPrice:   totals.Total,
		DeliverySlot: slot,
		Status:       models.StatusConfirmed,
		CreatedAt:    s.now(),
	}

	s.mu.Lock()
	s.currentOrder = &order
	s.orderHistory = append(s.orderHistory, order)
	s.cart = nil
	s.mu.Unlock()
	return order, nil
}

// CancelOrder cancels server-side, then clears the matching local copies.
func (s *Store) CancelOrder(ctx context.Context, client *api.Client, orderID string) error {
	auth := s.Auth()
	if auth == nil {
		return errors.New("not_authenticated")
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return errors.New("cancel_failed")
	}
	if err := client.CancelOrder(ctx, id, auth.User.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentOrder != nil && s.currentOrder.ID == orderID {
		s.currentOrder = nil
	}
	kept := s.orderHistory[:0]
	for _, order := range s.orderHistory {
		if order.ID != orderID {
			kept = append(kept, order)
		}
	}
	s.orderHistory = kept
	return nil
}

// SetCurrentOrder replaces the tracked order (nil clears it).
func (s *Store) SetCurrentOrder(order *models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentOrder = order
}

// ApplyOrderStatus updates a cached order from a polled or pushed status
// change. Returns the previous status and whether anything changed; late
// updates for unknown order ids are ignored.
func (s *Store) ApplyOrderStatus(orderID string, status models.OrderStatus) (models.OrderStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var previous models.OrderStatus
	changed := false
	if s.currentOrder != nil && s.currentOrder.ID == orderID && s.currentOrder.Status != status {
		previous = s.currentOrder.Status
		s.currentOrder.Status = status
		changed = true
	}
	for i := range s.orderHistory {
		if s.orderHistory[i].ID == orderID && s.orderHistory[i].Status != status {
			if !changed {
				previous = s.orderHistory[i].Status
			}
			s.orderHistory[i].Status = status
			changed = true
		}
	}
	return previous, changed
}

// Draft builds the server-side mirror of the current cart and selection.
func (s *Store) Draft() models.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft := models.Draft{
		DeliverySlot: s.selectedSlot,
		RestaurantID: s.selectedRestaurantID,
		BuildingID:   s.selectedBuildingID,
	}
	for _, entry := range s.cart {
		draft.Items = append(draft.Items, models.DraftItem{
			ID:       entry.Item.ID,
			Name:     entry.Item.Name,
			Price:    entry.Item.Price,
			Quantity: entry.Qty,
		})
	}
	return draft
}
