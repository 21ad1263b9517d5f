package services

import (
	"fmt"
	"log"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"lunch-tg-app/internal/models"
	"lunch-tg-app/internal/orderutil"
)

// Notifier pushes order-status messages through the bot. Users opt in by
// sending /start to the bot; the chat id is remembered for the session.
type Notifier struct {
	bot *tgbotapi.BotAPI

	mu    sync.Mutex
	chats map[int64]int64 // telegram user id -> chat id
}

func NewNotifier(token string) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	log.Printf("Bot authorized as %s", bot.Self.UserName)

	n := &Notifier{bot: bot, chats: make(map[int64]int64)}
	go n.listenForCommands()
	return n, nil
}

func (n *Notifier) listenForCommands() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := n.bot.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil || update.Message.From == nil {
			continue
		}
		if update.Message.IsCommand() && update.Message.Command() == "start" {
			n.mu.Lock()
			n.chats[update.Message.From.ID] = update.Message.Chat.ID
			n.mu.Unlock()

			msg := tgbotapi.NewMessage(update.Message.Chat.ID,
				"Привет! Буду присылать сюда статусы ваших заказов на обед.")
			if _, err := n.bot.Send(msg); err != nil {
				log.Printf("Failed to send /start reply: %v", err)
			}
		}
	}
}

var statusText = map[models.OrderStatus]string{
	models.StatusPending:             "⏳ ожидает подтверждения",
	models.StatusConfirmed:           "✅ подтверждён",
	models.StatusRestaurantConfirmed: "👨‍🍳 принят рестораном",
	models.StatusPreparing:           "🔥 готовится",
	models.StatusReady:               "📦 готов к выдаче",
	models.StatusDelivered:           "✔️ доставлен",
	models.StatusCancelled:           "✖ отменён",
}

// NotifyOrderStatus sends one status-change message. Users who never sent
// /start are silently skipped.
func (n *Notifier) NotifyOrderStatus(telegramUserID int64, order models.Order) {
	if n == nil {
		return
	}
	n.mu.Lock()
	chatID, ok := n.chats[telegramUserID]
	n.mu.Unlock()
	if !ok {
		return
	}

	label, known := statusText[order.Status]
	if !known {
		label = string(order.Status)
	}
	text := fmt.Sprintf("Заказ на %s: %s\nСумма: %s",
		order.DeliverySlot, label, orderutil.FormatPrice(order.TotalPrice))
	if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Printf("Failed to send status notification: %v", err)
	}
}
