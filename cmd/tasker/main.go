package main

import (
	"errors"
	"io/fs"
	"log"

	"tasker/cmd/internal/app"

	"github.com/joho/godotenv"
)

func main() {
	// Optional local .env; real environment variables take precedence.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
