package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"lunch-tg-app/internal/api"
	"lunch-tg-app/internal/app"
	"lunch-tg-app/internal/handlers"
	"lunch-tg-app/internal/services"
	"lunch-tg-app/internal/store"
)

func main() {
	// 0. Load Config (Envars)
	_ = godotenv.Load() // Load .env file if exists

	token := os.Getenv("TELEGRAM_TOKEN")
	if token == "" {
		log.Println("Warning: TELEGRAM_TOKEN not set. Bot notifications disabled.")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	apiURL := os.Getenv("API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8081"
		log.Printf("API_URL not set, using %s", apiURL)
	}

	allowLocalAuth := os.Getenv("ALLOW_LOCAL_AUTH") == "1"
	pushEndpoint := os.Getenv("PUSH_ENDPOINT")

	// 1. Init Telegram Bot (optional)
	var notifier *services.Notifier
	if token != "" {
		var err error
		notifier, err = services.NewNotifier(token)
		if err != nil {
			log.Printf("Warning: Failed to init Telegram bot: %v", err)
		}
	}

	// 2. Init Store, API Client, Controller
	st := store.New()
	if tz := os.Getenv("TIMEZONE"); tz != "" {
		st.SetTimezone(tz)
	}
	client := api.New(apiURL)
	controller := app.NewController(st, client, app.Options{
		Notifier:       notifier,
		AllowLocalAuth: allowLocalAuth,
	})
	controller.LoadAll(context.Background())
	if pushEndpoint != "" {
		controller.ConnectPush(pushEndpoint)
	}

	// 3. Setup Router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// 4. Routes
	h := handlers.New(controller)
	h.Register(r)

	// 5. Graceful shutdown: flush the draft before exit
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		controller.Shutdown()
		os.Exit(0)
	}()

	// 6. Start
	fmt.Printf("Сервер запущен на http://localhost:%s\n", port)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatal(err)
	}
}
