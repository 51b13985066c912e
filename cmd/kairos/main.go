package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/cli"
)

func main() {
	// Missing .env is fine; environment variables win over file values.
	_ = godotenv.Load()

	os.Exit(cli.Execute())
}
