package models

import "time"

// TgUser is the Telegram identity of the acting user.
type TgUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName,omitempty"`
	Username     string `json:"username,omitempty"`
	PhotoURL     string `json:"photoUrl,omitempty"`
	LanguageCode string `json:"languageCode,omitempty"`
}

// AuthSource tells where the session identity came from.
type AuthSource string

const (
	AuthTelegram AuthSource = "telegram" // real initData from the Mini App host
	AuthLocal    AuthSource = "local"    // test identity, no server-verifiable signature
)

// TgAuth is created once at bootstrap and replaced wholesale, never mutated.
type TgAuth struct {
	Source   AuthSource `json:"source"`
	User     TgUser     `json:"user"`
	InitData string     `json:"initData"`
	AuthDate int64      `json:"authDate,omitempty"`
	Hash     string     `json:"hash,omitempty"`
}

// Building is static reference data.
type Building struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Restaurant reference data. BuildingIDs models the many-to-many
// restaurant-building relation.
type Restaurant struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Cuisine     string  `json:"cuisine"`
	Rating      float64 `json:"rating"`
	EtaMinutes  int     `json:"etaMinutes"`
	PriceLevel  string  `json:"priceLevel"`
	CoverEmoji  string  `json:"coverEmoji"`
	BuildingIDs []int64 `json:"buildingIds"`
	SbpLink     string  `json:"sbpLink,omitempty"`
}

// MenuItem is reference data scoped to one restaurant.
type MenuItem struct {
	ID           int64  `json:"id"`
	RestaurantID int64  `json:"restaurantId"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Price        int64  `json:"price"`
	Unit         string `json:"unit"`
	Category     string `json:"category"`
	Emoji        string `json:"emoji"`
	ImageURL     string `json:"imageUrl,omitempty"`
}

// CartItem is client-owned. Qty must stay > 0; an entry dropping to zero is
// removed by the store on every mutation.
type CartItem struct {
	Item MenuItem `json:"item"`
	Qty  int      `json:"qty"`
}

// DeliverySlot is a server-owned snapshot. A slot carrying LobbyDeadline,
// MinParticipants and CurrentParticipants is lobby-gated; without them it is
// a simple slot orderable until Deadline.
type DeliverySlot struct {
	ID                  string `json:"id"`
	Time                string `json:"time"`
	Deadline            string `json:"deadline"`
	IsAvailable         bool   `json:"isAvailable"`
	LobbyDeadline       string `json:"lobbyDeadline,omitempty"`
	MinParticipants     *int   `json:"minParticipants,omitempty"`
	CurrentParticipants *int   `json:"currentParticipants,omitempty"`
	DeliveryPriceCents  *int64 `json:"deliveryPriceCents,omitempty"`
	IsActivated         bool   `json:"isActivated,omitempty"`
	UserInLobby         bool   `json:"userInLobby,omitempty"`
}

// HasLobby reports whether the slot is lobby-gated.
func (s DeliverySlot) HasLobby() bool {
	return s.LobbyDeadline != "" && s.MinParticipants != nil && s.CurrentParticipants != nil
}

// OrderStatus is a linear progression with cancelled as an absorbing
// terminal state reachable from any non-terminal status.
type OrderStatus string

const (
	StatusPending             OrderStatus = "pending"
	StatusConfirmed           OrderStatus = "confirmed"
	StatusRestaurantConfirmed OrderStatus = "restaurant_confirmed"
	StatusPreparing           OrderStatus = "preparing"
	StatusReady               OrderStatus = "ready"
	StatusDelivered           OrderStatus = "delivered"
	StatusCancelled           OrderStatus = "cancelled"
)

// StatusProgression lists the happy-path statuses in order, used by the
// tracking timeline.
var StatusProgression = []OrderStatus{
	StatusPending,
	StatusConfirmed,
	StatusRestaurantConfirmed,
	StatusPreparing,
	StatusReady,
	StatusDelivered,
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Order is created by checkout and owned by the backend; the client keeps a
// cached copy.
type Order struct {
	ID           string      `json:"id"`
	UserID       int64       `json:"userId"`
	RestaurantID int64       `json:"restaurantId"`
	BuildingID   int64       `json:"buildingId"`
	Items        []CartItem  `json:"items"`
	TotalPrice   int64       `json:"totalPrice"`
	DeliverySlot string      `json:"deliverySlot"`
	Status       OrderStatus `json:"status"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// GroupOrder is the read-only aggregate of all orders sharing one
// (slot, building, restaurant) triple.
type GroupOrder struct {
	DeliverySlot     string  `json:"deliverySlot"`
	BuildingID       int64   `json:"buildingId"`
	RestaurantID     int64   `json:"restaurantId"`
	ParticipantCount int     `json:"participantCount"`
	TotalAmount      int64   `json:"totalAmount"`
	MinimumAmount    int64   `json:"minimumAmount"`
	Orders           []Order `json:"orders"`
}

// DraftItem is one cart row inside a server-persisted draft.
type DraftItem struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

// Draft mirrors the in-progress cart and selection server-side, keyed by the
// Telegram user. Written on a debounce, read once at session start.
type Draft struct {
	DeliverySlot string      `json:"delivery_slot"`
	RestaurantID int64       `json:"restaurant_id"`
	BuildingID   int64       `json:"building_id"`
	Items        []DraftItem `json:"items"`
}
