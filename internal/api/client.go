// Package api is the typed client for the lunch backend. Every call parses
// the {success, data, error} envelope; on failure the returned error message
// is the server error code (not a human string) so screens can map it to
// localized text.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"lunch-tg-app/internal/models"
	"lunch-tg-app/internal/orderutil"
)

// Client talks to one backend base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// do performs one request and unwraps the envelope. fallbackCode is used
// when the server did not provide an error code of its own.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, fallbackCode string) (json.RawMessage, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, errors.New(fallbackCode)
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return nil, errors.New(fallbackCode)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 || !env.Success {
		if env.Error != "" {
			return nil, errors.New(env.Error)
		}
		return nil, errors.New(fallbackCode)
	}
	return env.Data, nil
}

func decode(data json.RawMessage, out any, fallbackCode string) error {
	if len(data) == 0 || string(data) == "null" {
		return errors.New(fallbackCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.New(fallbackCode)
	}
	return nil
}

// Config is the backend-provided app configuration.
type Config struct {
	Timezone string `json:"timezone"`
}

// FetchConfig never fails: a broken config endpoint falls back to the
// default timezone.
func (c *Client) FetchConfig(ctx context.Context) Config {
	data, err := c.do(ctx, http.MethodGet, "/api/config", nil, nil, "config_fetch_failed")
	if err != nil {
		return Config{Timezone: orderutil.DefaultTimezone}
	}
	var cfg Config
	if decode(data, &cfg, "config_fetch_failed") != nil || cfg.Timezone == "" {
		return Config{Timezone: orderutil.DefaultTimezone}
	}
	return cfg
}

func (c *Client) FetchBuildings(ctx context.Context) ([]models.Building, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/buildings", nil, nil, "buildings_fetch_failed")
	if err != nil {
		return nil, err
	}
	var buildings []models.Building
	if err := decode(data, &buildings, "buildings_fetch_failed"); err != nil {
		return nil, err
	}
	return buildings, nil
}

type wireRestaurant struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	ChatID  int64  `json:"chat_id"`
	SbpLink string `json:"sbp_link"`
}

// FetchRestaurants lists restaurants serving one building. The backend only
// stores id/name, so presentational fields get stable defaults here.
func (c *Client) FetchRestaurants(ctx context.Context, buildingID int64) ([]models.Restaurant, error) {
	query := url.Values{"buildingId": {strconv.FormatInt(buildingID, 10)}}
	data, err := c.do(ctx, http.MethodGet, "/api/restaurants", query, nil, "restaurants_fetch_failed")
	if err != nil {
		return nil, err
	}
	var rows []wireRestaurant
	if err := decode(data, &rows, "restaurants_fetch_failed"); err != nil {
		return nil, err
	}
	restaurants := make([]models.Restaurant, 0, len(rows))
	for _, row := range rows {
		restaurants = append(restaurants, models.Restaurant{
			ID:          row.ID,
			Name:        row.Name,
			Cuisine:     "Домашняя кухня",
			Rating:      4.7,
			EtaMinutes:  25,
			PriceLevel:  "₽₽",
			CoverEmoji:  "🍽️",
			BuildingIDs: []int64{buildingID},
			SbpLink:     row.SbpLink,
		})
	}
	return restaurants, nil
}

var categoryEmoji = map[string]string{
	"Супы":    "🥣",
	"Горячее": "🍲",
	"Салаты":  "🥗",
	"Боулы":   "🥙",
	"Закуски": "🥪",
	"Напитки": "🥤",
}

// CategoryEmoji picks the cover emoji for a menu category.
func CategoryEmoji(category string) string {
	if emoji, ok := categoryEmoji[category]; ok {
		return emoji
	}
	return "🍽️"
}

type wireMenuItem struct {
	ID           int64   `json:"id"`
	RestaurantID int64   `json:"restaurant_id"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	Description  string  `json:"description"`
	Category     string  `json:"category"`
	ImageURL     string  `json:"image_url"`
}

func (c *Client) FetchMenu(ctx context.Context, restaurantID int64) ([]models.MenuItem, error) {
	path := "/api/menu/" + strconv.FormatInt(restaurantID, 10)
	data, err := c.do(ctx, http.MethodGet, path, nil, nil, "menu_fetch_failed")
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Items []wireMenuItem `json:"items"`
	}
	if err := decode(data, &wrapper, "menu_fetch_failed"); err != nil {
		return nil, err
	}
	items := make([]models.MenuItem, 0, len(wrapper.Items))
	for _, row := range wrapper.Items {
		description := row.Description
		if description == "" {
			description = "Описание появится позже"
		}
		category := row.Category
		if category == "" {
			category = "Другое"
		}
		items = append(items, models.MenuItem{
			ID:           row.ID,
			RestaurantID: row.RestaurantID,
			Name:         row.Name,
			Description:  description,
			Price:        int64(row.Price + 0.5),
			Unit:         "1 порция",
			Category:     category,
			Emoji:        CategoryEmoji(category),
			ImageURL:     row.ImageURL,
		})
	}
	return items, nil
}

// SlotQuery narrows the delivery-slot listing. TelegramUserID personalizes
// the userInLobby/isActivated flags.
type SlotQuery struct {
	BuildingID     int64
	RestaurantID   int64
	TelegramUserID int64
}

func (c *Client) FetchDeliverySlots(ctx context.Context, q SlotQuery) ([]models.DeliverySlot, error) {
	query := url.Values{}
	if q.BuildingID != 0 {
		query.Set("buildingId", strconv.FormatInt(q.BuildingID, 10))
	}
	if q.RestaurantID != 0 {
		query.Set("restaurantId", strconv.FormatInt(q.RestaurantID, 10))
	}
	if q.TelegramUserID != 0 {
		query.Set("telegram_user_id", strconv.FormatInt(q.TelegramUserID, 10))
	}
	data, err := c.do(ctx, http.MethodGet, "/api/delivery-slots", query, nil, "delivery_slots_fetch_failed")
	if err != nil {
		return nil, err
	}
	var slots []models.DeliverySlot
	if err := decode(data, &slots, "delivery_slots_invalid"); err != nil {
		return nil, err
	}
	return slots, nil
}

type lobbyRequest struct {
	TelegramUserID int64  `json:"telegram_user_id"`
	BuildingID     int64  `json:"building_id"`
	RestaurantID   int64  `json:"restaurant_id"`
	DeliverySlot   string `json:"delivery_slot"`
}

func (c *Client) JoinLobby(ctx context.Context, telegramUserID, buildingID, restaurantID int64, deliverySlot string) error {
	body := lobbyRequest{telegramUserID, buildingID, restaurantID, deliverySlot}
	_, err := c.do(ctx, http.MethodPost, "/api/lobby/join", nil, body, "lobby_join_failed")
	return err
}

func (c *Client) LeaveLobby(ctx context.Context, telegramUserID, buildingID, restaurantID int64, deliverySlot string) error {
	body := lobbyRequest{telegramUserID, buildingID, restaurantID, deliverySlot}
	_, err := c.do(ctx, http.MethodPost, "/api/lobby/leave", nil, body, "lobby_leave_failed")
	return err
}

// CreateOrderPayload is the wire shape of POST /api/orders.
type CreateOrderPayload struct {
	UserID       int64              `json:"userId"`
	RestaurantID int64              `json:"restaurantId"`
	BuildingID   int64              `json:"buildingId"`
	Items        []models.DraftItem `json:"items"`
	TotalPrice   int64              `json:"totalPrice"`
	DeliverySlot string             `json:"deliverySlot"`
}

// CreatedOrder is what the backend reports back for a new order.
type CreatedOrder struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

func (c *Client) CreateOrder(ctx context.Context, payload CreateOrderPayload) (CreatedOrder, error) {
	data, err := c.do(ctx, http.MethodPost, "/api/orders", nil, payload, "order_create_failed")
	if err != nil {
		return CreatedOrder{}, err
	}
	var created CreatedOrder
	if err := decode(data, &created, "order_create_failed"); err != nil {
		return CreatedOrder{}, err
	}
	return created, nil
}

func (c *Client) PayOrder(ctx context.Context, orderID, telegramUserID int64) error {
	path := fmt.Sprintf("/api/orders/%d/pay", orderID)
	body := map[string]int64{"telegram_user_id": telegramUserID}
	_, err := c.do(ctx, http.MethodPost, path, nil, body, "pay_failed")
	return err
}

func (c *Client) CancelOrder(ctx context.Context, orderID, telegramUserID int64) error {
	path := fmt.Sprintf("/api/orders/%d", orderID)
	query := url.Values{"telegram_user_id": {strconv.FormatInt(telegramUserID, 10)}}
	_, err := c.do(ctx, http.MethodDelete, path, query, nil, "cancel_failed")
	return err
}

// UserUpsert carries the profile fields synced on every session start.
// InviteCode is set on first launch from the t.me start_param deep link or
// the invite screen; the backend answers invalid_invite_code when it is
// unknown.
type UserUpsert struct {
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	BuildingID int64  `json:"building_id,omitempty"`
	InviteCode string `json:"invite_code,omitempty"`
}

// APIUser is the backend record of the user.
type APIUser struct {
	ID             int64 `json:"id"`
	TelegramUserID int64 `json:"telegram_user_id"`
	BuildingID     int64 `json:"building_id"`
}

func (c *Client) UpsertUser(ctx context.Context, telegramUserID int64, fields UserUpsert) (APIUser, error) {
	body := struct {
		TelegramUserID int64 `json:"telegram_user_id"`
		UserUpsert
	}{telegramUserID, fields}
	data, err := c.do(ctx, http.MethodPost, "/api/user", nil, body, "user_sync_failed")
	if err != nil {
		return APIUser{}, err
	}
	var user APIUser
	if err := decode(data, &user, "user_sync_failed"); err != nil {
		return APIUser{}, err
	}
	return user, nil
}

func userQuery(telegramUserID int64) url.Values {
	return url.Values{"telegram_user_id": {strconv.FormatInt(telegramUserID, 10)}}
}

// GetDraft returns nil (not an error) when the user has no saved draft.
func (c *Client) GetDraft(ctx context.Context, telegramUserID int64) (*models.Draft, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/draft", userQuery(telegramUserID), nil, "draft_fetch_failed")
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var draft models.Draft
	if err := json.Unmarshal(data, &draft); err != nil {
		return nil, errors.New("draft_fetch_failed")
	}
	return &draft, nil
}

func (c *Client) PutDraft(ctx context.Context, telegramUserID int64, draft models.Draft) error {
	body := struct {
		TelegramUserID int64 `json:"telegram_user_id"`
		models.Draft
	}{telegramUserID, draft}
	_, err := c.do(ctx, http.MethodPut, "/api/draft", nil, body, "draft_save_failed")
	return err
}

func (c *Client) DeleteDraft(ctx context.Context, telegramUserID int64) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/draft", userQuery(telegramUserID), nil, "draft_delete_failed")
	return err
}

type wireGroupOrderRow struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	TotalPrice int64           `json:"total_price"`
	Status     string          `json:"status"`
	Items      json.RawMessage `json:"items"`
}

type wireGroupOrder struct {
	DeliverySlot     string              `json:"deliverySlot"`
	BuildingID       int64               `json:"buildingId"`
	RestaurantID     int64               `json:"restaurantId"`
	ParticipantCount int                 `json:"participantCount"`
	TotalAmount      int64               `json:"totalAmount"`
	MinimumAmount    int64               `json:"minimumAmount"`
	Orders           []wireGroupOrderRow `json:"orders"`
}

// FetchGroupOrder loads the aggregate for one (slot, building, restaurant)
// triple.
func (c *Client) FetchGroupOrder(ctx context.Context, deliverySlot string, buildingID, restaurantID int64) (models.GroupOrder, error) {
	query := url.Values{
		"deliverySlot": {deliverySlot},
		"buildingId":   {strconv.FormatInt(buildingID, 10)},
		"restaurantId": {strconv.FormatInt(restaurantID, 10)},
	}
	data, err := c.do(ctx, http.MethodGet, "/api/group-orders", query, nil, "group_order_fetch_failed")
	if err != nil {
		return models.GroupOrder{}, err
	}
	var wire wireGroupOrder
	if err := decode(data, &wire, "group_order_fetch_failed"); err != nil {
		return models.GroupOrder{}, err
	}
	group := models.GroupOrder{
		DeliverySlot:     wire.DeliverySlot,
		BuildingID:       wire.BuildingID,
		RestaurantID:     wire.RestaurantID,
		ParticipantCount: wire.ParticipantCount,
		TotalAmount:      wire.TotalAmount,
		MinimumAmount:    wire.MinimumAmount,
	}
	for _, row := range wire.Orders {
		group.Orders = append(group.Orders, models.Order{
			ID:           strconv.FormatInt(row.ID, 10),
			UserID:       row.UserID,
			RestaurantID: wire.RestaurantID,
			BuildingID:   wire.BuildingID,
			TotalPrice:   row.TotalPrice,
			DeliverySlot: wire.DeliverySlot,
			Status:       models.OrderStatus(row.Status),
		})
	}
	return group, nil
}

// FetchUserOrderSlots returns the slot ids the user already holds an order
// in. Failures degrade to an empty list: slot selectability must not break
// the whole screen.
func (c *Client) FetchUserOrderSlots(ctx context.Context, telegramUserID, buildingID, restaurantID int64) []string {
	path := fmt.Sprintf("/api/users/by-telegram/%d/order-slots", telegramUserID)
	query := url.Values{
		"buildingId":   {strconv.FormatInt(buildingID, 10)},
		"restaurantId": {strconv.FormatInt(restaurantID, 10)},
	}
	data, err := c.do(ctx, http.MethodGet, path, query, nil, "order_slots_fetch_failed")
	if err != nil {
		return nil
	}
	var slots []string
	if json.Unmarshal(data, &slots) != nil {
		return nil
	}
	return slots
}

type wireActiveOrder struct {
	ID           int64              `json:"id"`
	UserID       int64              `json:"user_id"`
	RestaurantID int64              `json:"restaurant_id"`
	BuildingID   int64              `json:"building_id"`
	Items        []models.DraftItem `json:"items"`
	TotalPrice   int64              `json:"total_price"`
	DeliverySlot string             `json:"delivery_slot"`
	Status       string             `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
}

// FetchActiveOrder returns the user's live order for one slot, or nil when
// there is none.
func (c *Client) FetchActiveOrder(ctx context.Context, telegramUserID int64, deliverySlot string, buildingID, restaurantID int64) (*models.Order, error) {
	path := fmt.Sprintf("/api/users/by-telegram/%d/active-order", telegramUserID)
	query := url.Values{
		"deliverySlot": {deliverySlot},
		"buildingId":   {strconv.FormatInt(buildingID, 10)},
		"restaurantId": {strconv.FormatInt(restaurantID, 10)},
	}
	data, err := c.do(ctx, http.MethodGet, path, query, nil, "active_order_fetch_failed")
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var wire wireActiveOrder
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, errors.New("active_order_fetch_failed")
	}
	order := models.Order{
		ID:           strconv.FormatInt(wire.ID, 10),
		UserID:       wire.UserID,
		RestaurantID: wire.RestaurantID,
		BuildingID:   wire.BuildingID,
		TotalPrice:   wire.TotalPrice,
		DeliverySlot: wire.DeliverySlot,
		Status:       models.OrderStatus(wire.Status),
		CreatedAt:    wire.CreatedAt,
	}
	for _, row := range wire.Items {
		order.Items = append(order.Items, models.CartItem{
			Item: models.MenuItem{
				ID:           row.ID,
				RestaurantID: wire.RestaurantID,
				Name:         row.Name,
				Price:        row.Price,
				Unit:         "1 порция",
				Category:     "Другое",
				Emoji:        "🍽️",
			},
			Qty: row.Quantity,
		})
	}
	return &order, nil
}
