// Stub backend for local development: serves the full REST contract from
// memory so the app can run without the production API.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"lunch-tg-app/internal/stub"
)

func main() {
	_ = godotenv.Load()

	port := os.Getenv("STUB_PORT")
	if port == "" {
		port = "8081"
	}

	server := stub.New()
	fmt.Printf("Стаб-бэкенд запущен на http://localhost:%s\n", port)
	if err := http.ListenAndServe(":"+port, server.Router()); err != nil {
		log.Fatal(err)
	}
}
