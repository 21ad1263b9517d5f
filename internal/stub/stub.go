// Package stub is an in-memory implementation of the backend REST contract.
// It exists for local development and tests: the real backend owns orders,
// lobbies, drafts and users, and this stub mimics its observable behavior —
// the envelope, the error codes, lobby counting and the one-order-per-slot
// rule — without any persistence.
package stub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"lunch-tg-app/internal/models"
	"lunch-tg-app/internal/orderutil"
	"lunch-tg-app/internal/testdata"
)

type user struct {
	ID             int64  `json:"id"`
	TelegramUserID int64  `json:"telegram_user_id"`
	Username       string `json:"username,omitempty"`
	BuildingID     int64  `json:"building_id,omitempty"`
}

type order struct {
	ID             int64
	UserID         int64
	TelegramUserID int64
	RestaurantID   int64
	BuildingID     int64
	Items          []models.DraftItem
	TotalPrice     int64
	DeliverySlot   string
	Status         models.OrderStatus
	CreatedAt      time.Time
}

type draft struct {
	DeliverySlot string             `json:"delivery_slot"`
	RestaurantID int64              `json:"restaurant_id"`
	BuildingID   int64              `json:"building_id"`
	Items        []models.DraftItem `json:"items"`
}

// Server holds the whole backend state behind one mutex.
type Server struct {
	mu sync.Mutex

	timezone    string
	buildings   []models.Building
	restaurants []models.Restaurant
	menu        []models.MenuItem
	slots       []models.DeliverySlot
	inviteCodes map[string]int64 // code -> building id

	lobbies map[string]map[int64]bool // slot key -> joined telegram user ids

	users      map[int64]*user // by telegram user id
	nextUserID int64

	orders      map[int64]*order
	nextOrderID int64

	drafts map[int64]draft

	failPayments bool
}

func New() *Server {
	return &Server{
		timezone:    orderutil.DefaultTimezone,
		buildings:   testdata.Buildings,
		restaurants: testdata.Restaurants,
		menu:        testdata.MenuItems,
		inviteCodes: map[string]int64{"OFFICE": 1},
		lobbies:     make(map[string]map[int64]bool),
		users:       make(map[int64]*user),
		nextUserID:  1,
		orders:      make(map[int64]*order),
		nextOrderID: 1,
		drafts:      make(map[int64]draft),
	}
}

// SetSlots replaces the slot table.
func (s *Server) SetSlots(slots []models.DeliverySlot) {
	s.mu.Lock()
	s.slots = append([]models.DeliverySlot(nil), slots...)
	s.mu.Unlock()
}

// FailPayments makes every pay call return pay_failed. Test hook.
func (s *Server) FailPayments(fail bool) {
	s.mu.Lock()
	s.failPayments = fail
	s.mu.Unlock()
}

// Router mounts the REST contract.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/config", s.getConfig)
	r.Get("/api/buildings", s.getBuildings)
	r.Get("/api/restaurants", s.getRestaurants)
	r.Get("/api/menu/{restaurantId}", s.getMenu)
	r.Get("/api/delivery-slots", s.getDeliverySlots)

	r.Post("/api/lobby/join", s.joinLobby)
	r.Post("/api/lobby/leave", s.leaveLobby)

	r.Post("/api/orders", s.createOrder)
	r.Post("/api/orders/{id}/pay", s.payOrder)
	r.Delete("/api/orders/{id}", s.cancelOrder)

	r.Get("/api/draft", s.getDraft)
	r.Put("/api/draft", s.putDraft)
	r.Delete("/api/draft", s.deleteDraft)

	r.Get("/api/group-orders", s.getGroupOrder)
	r.Get("/api/users/by-telegram/{id}/order-slots", s.getOrderSlots)
	r.Get("/api/users/by-telegram/{id}/active-order", s.getActiveOrder)
	r.Post("/api/user", s.upsertUser)

	return r
}

// --- envelope helpers ----------------------------------------------------

func ok(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func fail(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": code})
}

func queryInt(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v
}

func lobbyKey(slot string, buildingID, restaurantID int64) string {
	return fmt.Sprintf("%s|%d|%d", slot, buildingID, restaurantID)
}

// --- reference data ------------------------------------------------------

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok(w, map[string]string{"timezone": s.timezone})
}

func (s *Server) getBuildings(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok(w, s.buildings)
}

func (s *Server) getRestaurants(w http.ResponseWriter, r *http.Request) {
	buildingID := queryInt(r, "buildingId")
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]map[string]any, 0)
	for _, restaurant := range s.restaurants {
		for _, id := range restaurant.BuildingIDs {
			if id == buildingID {
				rows = append(rows, map[string]any{
					"id":       restaurant.ID,
					"name":     restaurant.Name,
					"sbp_link": restaurant.SbpLink,
				})
				break
			}
		}
	}
	ok(w, rows)
}

func (s *Server) getMenu(w http.ResponseWriter, r *http.Request) {
	restaurantID, err := strconv.ParseInt(chi.URLParam(r, "restaurantId"), 10, 64)
	if err != nil {
		fail(w, http.StatusBadRequest, "menu_fetch_failed")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]map[string]any, 0)
	for _, item := range s.menu {
		if item.RestaurantID == restaurantID {
			items = append(items, map[string]any{
				"id":            item.ID,
				"restaurant_id": item.RestaurantID,
				"name":          item.Name,
				"price":         item.Price,
				"description":   item.Description,
				"category":      item.Category,
			})
		}
	}
	ok(w, map[string]any{"items": items})
}

func (s *Server) getDeliverySlots(w http.ResponseWriter, r *http.Request) {
	buildingID := queryInt(r, "buildingId")
	restaurantID := queryInt(r, "restaurantId")
	telegramUserID := queryInt(r, "telegram_user_id")

	s.mu.Lock()
	defer s.mu.Unlock()
	views := make([]models.DeliverySlot, 0, len(s.slots))
	for _, slot := range s.slots {
		view := slot
		if view.HasLobby() {
			joined := s.lobbies[lobbyKey(slot.ID, buildingID, restaurantID)]
			count := len(joined)
			view.CurrentParticipants = &count
			view.IsActivated = slot.IsActivated || count >= *slot.MinParticipants
			if telegramUserID != 0 {
				view.UserInLobby = joined[telegramUserID]
			}
		}
		views = append(views, view)
	}
	ok(w, views)
}

// --- lobby ---------------------------------------------------------------

type lobbyBody struct {
	TelegramUserID int64  `json:"telegram_user_id"`
	BuildingID     int64  `json:"building_id"`
	RestaurantID   int64  `json:"restaurant_id"`
	DeliverySlot   string `json:"delivery_slot"`
}

func (s *Server) joinLobby(w http.ResponseWriter, r *http.Request) {
	var body lobbyBody
	if json.NewDecoder(r.Body).Decode(&body) != nil || body.TelegramUserID == 0 {
		fail(w, http.StatusBadRequest, "lobby_join_failed")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := lobbyKey(body.DeliverySlot, body.BuildingID, body.RestaurantID)
	if s.lobbies[key] == nil {
		s.lobbies[key] = make(map[int64]bool)
	}
	s.lobbies[key][body.TelegramUserID] = true
	ok(w, map[string]any{"joined": true})
}

func (s *Server) leaveLobby(w http.ResponseWriter, r *http.Request) {
	var body lobbyBody
	if json.NewDecoder(r.Body).Decode(&body) != nil || body.TelegramUserID == 0 {
		fail(w, http.StatusBadRequest, "lobby_leave_failed")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lobbies[lobbyKey(body.DeliverySlot, body.BuildingID, body.RestaurantID)], body.TelegramUserID)
	ok(w, map[string]any{"left": true})
}

// --- orders --------------------------------------------------------------

type createOrderBody struct {
	UserID       int64              `json:"userId"`
	RestaurantID int64              `json:"restaurantId"`
	BuildingID   int64              `json:"buildingId"`
	Items        []models.DraftItem `json:"items"`
	TotalPrice   int64              `json:"totalPrice"`
	DeliverySlot string             `json:"deliverySlot"`
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var body createOrderBody
	if json.NewDecoder(r.Body).Decode(&body) != nil || body.UserID == 0 || len(body.Items) == 0 {
		fail(w, http.StatusBadRequest, "order_create_failed")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var telegramUserID int64
	for _, u := range s.users {
		if u.ID == body.UserID {
			telegramUserID = u.TelegramUserID
		}
	}

	// One live order per user per (slot, building, restaurant).
	for _, existing := range s.orders {
		if existing.UserID == body.UserID &&
			existing.DeliverySlot == body.DeliverySlot &&
			existing.BuildingID == body.BuildingID &&
			existing.RestaurantID == body.RestaurantID &&
			existing.Status != models.StatusCancelled {
			fail(w, http.StatusConflict, "user_order_already_exists_for_slot")
			return
		}
	}

	id := s.nextOrderID
	s.nextOrderID++
	s.orders[id] = &order{
		ID:             id,
		UserID:         body.UserID,
		TelegramUserID: telegramUserID,
		RestaurantID:   body.RestaurantID,
		BuildingID:     body.BuildingID,
		Items:          body.Items,
		TotalPrice:     body.TotalPrice,
		DeliverySlot:   body.DeliverySlot,
		Status:         models.StatusPending,
		CreatedAt:      time.Now(),
	}
	ok(w, map[string]any{"id": id, "status": string(models.StatusPending)})
}

func (s *Server) orderFromPath(r *http.Request) (*order, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return nil, false
	}
	ord, found := s.orders[id]
	return ord, found
}

func (s *Server) payOrder(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ord, found := s.orderFromPath(r)
	if !found {
		fail(w, http.StatusNotFound, "pay_failed")
		return
	}
	if s.failPayments {
		fail(w, http.StatusPaymentRequired, "pay_failed")
		return
	}
	ord.Status = models.StatusConfirmed
	ok(w, map[string]any{"id": ord.ID, "status": string(ord.Status)})
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ord, found := s.orderFromPath(r)
	if !found {
		fail(w, http.StatusNotFound, "cancel_failed")
		return
	}
	ord.Status = models.StatusCancelled
	ok(w, map[string]any{"id": ord.ID, "status": string(ord.Status)})
}

// SetOrderStatus advances one order out of band, the way the real kitchen
// flow would. Test hook.
func (s *Server) SetOrderStatus(orderID int64, status models.OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ord, found := s.orders[orderID]; found {
		ord.Status = status
	}
}

// --- drafts --------------------------------------------------------------

func (s *Server) getDraft(w http.ResponseWriter, r *http.Request) {
	telegramUserID := queryInt(r, "telegram_user_id")
	s.mu.Lock()
	defer s.mu.Unlock()
	saved, found := s.drafts[telegramUserID]
	if !found {
		ok(w, nil)
		return
	}
	ok(w, saved)
}

func (s *Server) putDraft(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TelegramUserID int64 `json:"telegram_user_id"`
		draft
	}
	if json.NewDecoder(r.Body).Decode(&body) != nil || body.TelegramUserID == 0 {
		fail(w, http.StatusBadRequest, "draft_save_failed")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[body.TelegramUserID] = body.draft
	ok(w, map[string]any{"saved": true})
}

func (s *Server) deleteDraft(w http.ResponseWriter, r *http.Request) {
	telegramUserID := queryInt(r, "telegram_user_id")
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, telegramUserID)
	ok(w, map[string]any{"deleted": true})
}

// --- aggregates and user views ------------------------------------------

func (s *Server) getGroupOrder(w http.ResponseWriter, r *http.Request) {
	deliverySlot := r.URL.Query().Get("deliverySlot")
	buildingID := queryInt(r, "buildingId")
	restaurantID := queryInt(r, "restaurantId")

	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]map[string]any, 0)
	var total int64
	participants := make(map[int64]bool)
	for _, ord := range s.orders {
		if ord.DeliverySlot != deliverySlot || ord.BuildingID != buildingID ||
			ord.RestaurantID != restaurantID || ord.Status == models.StatusCancelled {
			continue
		}
		total += ord.TotalPrice
		participants[ord.UserID] = true
		rows = append(rows, map[string]any{
			"id":          ord.ID,
			"user_id":     ord.UserID,
			"total_price": ord.TotalPrice,
			"status":      string(ord.Status),
			"items":       ord.Items,
		})
	}
	ok(w, map[string]any{
		"deliverySlot":     deliverySlot,
		"buildingId":       buildingID,
		"restaurantId":     restaurantID,
		"participantCount": len(participants),
		"totalAmount":      total,
		"minimumAmount":    int64(5000),
		"orders":           rows,
	})
}

func (s *Server) getOrderSlots(w http.ResponseWriter, r *http.Request) {
	telegramUserID, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	buildingID := queryInt(r, "buildingId")
	restaurantID := queryInt(r, "restaurantId")

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	ids := make([]string, 0)
	for _, ord := range s.orders {
		if ord.TelegramUserID == telegramUserID && ord.BuildingID == buildingID &&
			ord.RestaurantID == restaurantID && ord.Status != models.StatusCancelled &&
			!seen[ord.DeliverySlot] {
			seen[ord.DeliverySlot] = true
			ids = append(ids, ord.DeliverySlot)
		}
	}
	ok(w, ids)
}

func (s *Server) getActiveOrder(w http.ResponseWriter, r *http.Request) {
	telegramUserID, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	deliverySlot := r.URL.Query().Get("deliverySlot")
	buildingID := queryInt(r, "buildingId")
	restaurantID := queryInt(r, "restaurantId")

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ord := range s.orders {
		if ord.TelegramUserID == telegramUserID && ord.DeliverySlot == deliverySlot &&
			ord.BuildingID == buildingID && ord.RestaurantID == restaurantID &&
			ord.Status != models.StatusCancelled {
			ok(w, map[string]any{
				"id":            ord.ID,
				"user_id":       ord.UserID,
				"restaurant_id": ord.RestaurantID,
				"building_id":   ord.BuildingID,
				"items":         ord.Items,
				"total_price":   ord.TotalPrice,
				"delivery_slot": ord.DeliverySlot,
				"status":        string(ord.Status),
				"created_at":    ord.CreatedAt,
			})
			return
		}
	}
	ok(w, nil)
}

type upsertUserBody struct {
	TelegramUserID int64  `json:"telegram_user_id"`
	Username       string `json:"username"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	BuildingID     int64  `json:"building_id"`
	InviteCode     string `json:"invite_code"`
}

func (s *Server) upsertUser(w http.ResponseWriter, r *http.Request) {
	var body upsertUserBody
	if json.NewDecoder(r.Body).Decode(&body) != nil || body.TelegramUserID == 0 {
		fail(w, http.StatusBadRequest, "user_sync_failed")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var inviteBuildingID int64
	if body.InviteCode != "" {
		id, valid := s.inviteCodes[strings.ToUpper(body.InviteCode)]
		if !valid {
			fail(w, http.StatusBadRequest, "invalid_invite_code")
			return
		}
		inviteBuildingID = id
	}

	existing, found := s.users[body.TelegramUserID]
	if !found {
		existing = &user{ID: s.nextUserID, TelegramUserID: body.TelegramUserID}
		s.nextUserID++
		s.users[body.TelegramUserID] = existing
	}
	existing.Username = body.Username
	if body.BuildingID != 0 {
		existing.BuildingID = body.BuildingID
	}
	if inviteBuildingID != 0 {
		existing.BuildingID = inviteBuildingID
	}
	ok(w, existing)
}
