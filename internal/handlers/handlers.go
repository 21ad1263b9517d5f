// Package handlers exposes the Mini App over HTTP: an HTML shell that
// captures Telegram initData, JSON view-models for each screen, and the
// action endpoints the screens call. Handlers hold no state of their own;
// everything reads and writes through the controller and its store.
package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"lunch-tg-app/internal/app"
	"lunch-tg-app/internal/models"
	"lunch-tg-app/internal/orderutil"
	"lunch-tg-app/internal/slots"
	"lunch-tg-app/internal/telegram"
)

type Handlers struct {
	Controller *app.Controller
}

func New(controller *app.Controller) *Handlers {
	return &Handlers{Controller: controller}
}

// Register mounts every route on the router.
func (h *Handlers) Register(r chi.Router) {
	r.Get("/", h.Shell)
	r.Post("/auth/local", h.LocalAuth)
	r.Post("/invite", h.JoinInvite)

	r.Group(func(r chi.Router) {
		r.Use(h.withTelegramAuth)

		r.Get("/screens/slot", h.SlotScreen)
		r.Get("/screens/menu", h.MenuScreen)
		r.Get("/screens/order", h.OrderScreen)
		r.Get("/screens/tracking", h.TrackingScreen)
		r.Get("/screens/history", h.HistoryScreen)

		r.Post("/select/building", h.SelectBuilding)
		r.Post("/select/restaurant", h.SelectRestaurant)
		r.Post("/select/slot", h.SelectSlot)

		r.Post("/cart/items", h.AddToCart)
		r.Post("/cart/items/{id}/qty", h.UpdateCartQty)

		r.Post("/slots/{id}/lobby/join", h.JoinLobby)
		r.Post("/slots/{id}/lobby/leave", h.LeaveLobby)

		r.Post("/checkout", h.BeginCheckout)
		r.Post("/checkout/confirm", h.ConfirmCheckout)
		r.Post("/checkout/cancel", h.CancelCheckout)

		r.Post("/orders/{id}/cancel", h.CancelOrder)
	})
}

// withTelegramAuth installs the session identity from the request's initData
// on first contact. Later requests reuse the stored auth.
func (h *Handlers) withTelegramAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Controller.Store.Auth() == nil {
			if initData := telegram.InitDataFromRequest(r); initData != "" {
				if err := h.Controller.AuthenticateInitData(initData); err != nil {
					log.Printf("Rejected initData: %v", err)
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers --------------------------------------------------------

func respond(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func respondErr(w http.ResponseWriter, status int, err error) {
	code := err.Error()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   code,
		"message": localizeError(code),
	})
}

// localizeError maps server error codes to user-facing text. Unknown codes
// pass through untouched (validation errors already arrive human-readable).
func localizeError(code string) string {
	switch code {
	case "draft_delete_failed":
		return "Заказ оформлен, но не удалось очистить черновик. Это не влияет на ваш заказ, но корзина может отображаться некорректно."
	case "user_order_already_exists_for_slot":
		return "У вас уже есть активный заказ на этот слот для выбранного ресторана и офиса. Повторный заказ недоступен."
	case "order_create_failed":
		return "Не удалось создать заказ. Попробуйте ещё раз или обратитесь к администратору."
	case "pay_failed":
		return "Не удалось оплатить заказ. Проверьте баланс и попробуйте ещё раз."
	case "invalid_invite_code":
		return "Неверный invite-код. Проверьте и попробуйте снова."
	case "lobby_join_failed":
		return "Не удалось присоединиться к сбору. Попробуйте ещё раз."
	case "lobby_leave_failed":
		return "Не удалось выйти из сбора. Попробуйте ещё раз."
	case "slot_not_selectable":
		return "Этот слот больше не принимает заказы."
	case "request_in_flight":
		return "Запрос уже выполняется, подождите."
	case "local_auth_disabled":
		return "Тестовая авторизация отключена."
	case "not_authenticated":
		return "Сначала авторизуйтесь в Telegram."
	case "cart_empty":
		return "Корзина пуста. Добавьте блюда из меню."
	case "checkout_preconditions_not_met":
		return "Не все условия для оформления выполнены."
	default:
		return code
	}
}

func decodeBody(r *http.Request, out any) error {
	return json.NewDecoder(r.Body).Decode(out)
}

// --- shell ---------------------------------------------------------------

// Shell serves the page the Mini App host opens. It stores initData into a
// cookie and reloads so every later request carries the identity.
func (h *Handlers) Shell(w http.ResponseWriter, r *http.Request) {
	html := `<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
	<title>Обед в Офис</title>
	<script src="https://telegram.org/js/telegram-web-app.js"></script>
</head>
<body>
	<div id="app">Загрузка…</div>
	<script>
		const tg = window.Telegram.WebApp;
		tg.ready();
		tg.expand();

		if (tg.initData) {
			document.cookie = "tg_init_data=" + encodeURIComponent(tg.initData) + "; path=/; SameSite=Lax; max-age=86400";
			window.location.href = "/screens/slot";
		} else {
			document.getElementById("app").innerText = "Откройте приложение из Telegram.";
		}
	</script>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

// LocalAuth applies the test-only identity. Gated behind ALLOW_LOCAL_AUTH.
func (h *Handlers) LocalAuth(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID        int64  `json:"id"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Username  string `json:"username"`
		PhotoURL  string `json:"photoUrl"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, fmt.Errorf("bad_test_user"))
		return
	}
	user := models.TgUser{
		ID:        body.ID,
		FirstName: strings.TrimSpace(body.FirstName),
		LastName:  strings.TrimSpace(body.LastName),
		Username:  strings.TrimSpace(body.Username),
		PhotoURL:  strings.TrimSpace(body.PhotoURL),
	}
	if err := h.Controller.AuthenticateLocal(user); err != nil {
		respondErr(w, http.StatusForbidden, err)
		return
	}
	h.Controller.LoadAll(r.Context())
	respond(w, map[string]any{"authorized": true})
}

// JoinInvite binds the user to an office by invite code.
func (h *Handlers) JoinInvite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, fmt.Errorf("invalid_invite_code"))
		return
	}
	code := strings.ToUpper(strings.TrimSpace(body.Code))
	if err := h.Controller.JoinInvite(r.Context(), code); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	respond(w, map[string]any{"joined": true})
}

// --- screens -------------------------------------------------------------

type restaurantCard struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	CoverEmoji string `json:"coverEmoji"`
	Selected   bool   `json:"selected"`
}

// SlotScreen renders the slot picker: restaurant mini-cards plus the
// derived view of every slot.
func (h *Handlers) SlotScreen(w http.ResponseWriter, r *http.Request) {
	snap := h.Controller.Store.Snapshot()
	now := time.Now()

	cards := make([]restaurantCard, 0, len(snap.Restaurants))
	for _, restaurant := range snap.Restaurants {
		cards = append(cards, restaurantCard{
			ID:         restaurant.ID,
			Name:       restaurant.Name,
			CoverEmoji: restaurant.CoverEmoji,
			Selected:   restaurant.ID == snap.SelectedRestaurantID,
		})
	}

	respond(w, map[string]any{
		"restaurants":    cards,
		"slots":          slots.DeriveAll(snap.DeliverySlots, snap.Timezone, now, snap.UserOrderSlotIDs),
		"selectedSlot":   snap.SelectedSlot,
		"availableCount": slots.AvailableCount(snap.DeliverySlots, snap.Timezone, now),
		"apiState":       snap.APIState,
		"apiError":       snap.APIError,
	})
}

type menuCategory struct {
	Name  string            `json:"name"`
	Items []models.MenuItem `json:"items"`
}

// MenuScreen renders the menu grouped by category, preserving first-seen
// category order.
func (h *Handlers) MenuScreen(w http.ResponseWriter, r *http.Request) {
	snap := h.Controller.Store.Snapshot()

	var categories []menuCategory
	index := make(map[string]int)
	for _, item := range snap.MenuItems {
		if item.RestaurantID != snap.SelectedRestaurantID {
			continue
		}
		i, seen := index[item.Category]
		if !seen {
			i = len(categories)
			index[item.Category] = i
			categories = append(categories, menuCategory{Name: item.Category})
		}
		categories[i].Items = append(categories[i].Items, item)
	}

	slotLabel := "Слот не выбран"
	if snap.SelectedSlot != "" {
		slotLabel = "Доставка в " + snap.SelectedSlot
	}
	respond(w, map[string]any{
		"categories":   categories,
		"slotLabel":    slotLabel,
		"slotSelected": snap.SelectedSlot != "",
	})
}

func joinReasons(reasons []string) string {
	switch len(reasons) {
	case 0:
		return ""
	case 1:
		return reasons[0]
	default:
		return strings.Join(reasons[:len(reasons)-1], ", ") + " и " + reasons[len(reasons)-1]
	}
}

// OrderScreen renders the cart, totals, group-order card and checkout state.
func (h *Handlers) OrderScreen(w http.ResponseWriter, r *http.Request) {
	snap := h.Controller.Store.Snapshot()
	now := time.Now()

	participantCount := 1
	if snap.GroupOrder != nil && snap.GroupOrder.ParticipantCount > 0 {
		participantCount = snap.GroupOrder.ParticipantCount
	}
	totals := orderutil.CalculateOrderTotals(snap.Cart, participantCount)

	deadline := orderutil.CancelDeadline
	for _, slot := range snap.DeliverySlots {
		if slot.ID == snap.SelectedSlot {
			deadline = slot.Deadline
		}
	}
	deadlineOver := orderutil.IsDeadlinePassedAt(deadline, snap.Timezone, now)

	missing := h.Controller.MissingCheckoutPreconditions()
	checkoutState, busy := h.Controller.CheckoutStatus()

	var sbpLink string
	for _, restaurant := range snap.Restaurants {
		if restaurant.ID == snap.SelectedRestaurantID {
			sbpLink = restaurant.SbpLink
		}
	}

	view := map[string]any{
		"cart":            snap.Cart,
		"totals":          totals,
		"discountPercent": orderutil.DiscountPercent,
		"deadline":        deadline,
		"cancelAvailable": !deadlineOver,
		"checkoutState":   checkoutState,
		"isProcessing":    busy,
		"canCheckout":     len(missing) == 0 && len(snap.Cart) > 0,
		"missingHint":     "",
	}
	if len(missing) > 0 {
		view["missingHint"] = "Чтобы оформить заказ, нужно " + joinReasons(missing)
	}
	if checkoutState == app.CheckoutConfirming && sbpLink != "" {
		view["sbpLink"] = sbpLink
	}
	if snap.GroupOrder != nil {
		view["groupOrder"] = snap.GroupOrder
	}
	respond(w, view)
}

type timelineStep struct {
	Status models.OrderStatus `json:"status"`
	Done   bool               `json:"done"`
	Active bool               `json:"active"`
}

// TrackingScreen renders the current order and its status timeline.
func (h *Handlers) TrackingScreen(w http.ResponseWriter, r *http.Request) {
	h.Controller.PollActiveOrder(r.Context())
	snap := h.Controller.Store.Snapshot()
	if snap.CurrentOrder == nil {
		respond(w, map[string]any{"order": nil})
		return
	}

	order := snap.CurrentOrder
	var steps []timelineStep
	if order.Status != models.StatusCancelled {
		currentIndex := -1
		for i, status := range models.StatusProgression {
			if status == order.Status {
				currentIndex = i
			}
		}
		for i, status := range models.StatusProgression {
			steps = append(steps, timelineStep{
				Status: status,
				Done:   i <= currentIndex,
				Active: i == currentIndex,
			})
		}
	}

	view := map[string]any{
		"order":     order,
		"cancelled": order.Status == models.StatusCancelled,
		"timeline":  steps,
	}
	if snap.GroupOrder != nil {
		view["groupOrder"] = snap.GroupOrder
	}
	respond(w, view)
}

// HistoryScreen lists past orders, newest first.
func (h *Handlers) HistoryScreen(w http.ResponseWriter, r *http.Request) {
	snap := h.Controller.Store.Snapshot()
	history := make([]models.Order, 0, len(snap.OrderHistory))
	for i := len(snap.OrderHistory) - 1; i >= 0; i-- {
		history = append(history, snap.OrderHistory[i])
	}
	respond(w, map[string]any{"orders": history})
}

// --- actions -------------------------------------------------------------

type idBody struct {
	ID int64 `json:"id"`
}

func (h *Handlers) SelectBuilding(w http.ResponseWriter, r *http.Request) {
	var body idBody
	if err := decodeBody(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, fmt.Errorf("bad_request"))
		return
	}
	if err := h.Controller.SelectBuilding(r.Context(), body.ID); err != nil {
		respondErr(w, http.StatusBadGateway, err)
		return
	}
	respond(w, map[string]any{"selected": true})
}

func (h *Handlers) SelectRestaurant(w http.ResponseWriter, r *http.Request) {
	var body idBody
	if err := decodeBody(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, fmt.Errorf("bad_request"))
		return
	}
	if err := h.Controller.SelectRestaurant(r.Context(), body.ID); err != nil {
		respondErr(w, http.StatusBadGateway, err)
		return
	}
	respond(w, map[string]any{"selected": true})
}

func (h *Handlers) SelectSlot(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, fmt.Errorf("bad_request"))
		return
	}
	if err := h.Controller.SelectSlot(r.Context(), body.ID); err != nil {
		respondErr(w, http.StatusConflict, err)
		return
	}
	respond(w, map[string]any{"selected": true})
}

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	var body idBody
	if err := decodeBody(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, fmt.Errorf("bad_request"))
		return
	}
	snap := h.Controller.Store.Snapshot()
	for _, item := range snap.MenuItems {
		if item.ID == body.ID {
			h.Controller.Store.AddToCart(item)
			h.Controller.ScheduleDraftSave()
			respond(w, map[string]any{"cart": h.Controller.Store.Cart()})
			return
		}
	}
	respondErr(w, http.StatusNotFound, fmt.Errorf("item_not_found"))
}

func (h *Handlers) UpdateCartQty(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondErr(w, http.StatusBadRequest, fmt.Errorf("bad_request"))
		return
	}
	var body struct {
		Delta int `json:"delta"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, fmt.Errorf("bad_request"))
		return
	}
	h.Controller.Store.UpdateCartQty(itemID, body.Delta)
	h.Controller.ScheduleDraftSave()
	respond(w, map[string]any{"cart": h.Controller.Store.Cart()})
}

func (h *Handlers) JoinLobby(w http.ResponseWriter, r *http.Request) {
	if err := h.Controller.JoinLobby(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondErr(w, http.StatusBadGateway, err)
		return
	}
	respond(w, map[string]any{"joined": true})
}

func (h *Handlers) LeaveLobby(w http.ResponseWriter, r *http.Request) {
	if err := h.Controller.LeaveLobby(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondErr(w, http.StatusBadGateway, err)
		return
	}
	respond(w, map[string]any{"left": true})
}

func (h *Handlers) BeginCheckout(w http.ResponseWriter, r *http.Request) {
	if err := h.Controller.BeginCheckout(); err != nil {
		respondErr(w, http.StatusConflict, err)
		return
	}
	respond(w, map[string]any{"state": app.CheckoutConfirming})
}

func (h *Handlers) ConfirmCheckout(w http.ResponseWriter, r *http.Request) {
	order, err := h.Controller.ConfirmCheckout(r.Context())
	if err != nil {
		respondErr(w, http.StatusBadGateway, err)
		return
	}
	respond(w, map[string]any{"order": order})
}

func (h *Handlers) CancelCheckout(w http.ResponseWriter, r *http.Request) {
	h.Controller.CancelCheckout()
	respond(w, map[string]any{"state": app.CheckoutReviewing})
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.Controller.CancelOrder(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondErr(w, http.StatusBadGateway, err)
		return
	}
	respond(w, map[string]any{"cancelled": true})
}
