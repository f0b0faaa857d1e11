// Command cardiobot is the entry point for the cardiology handbook assistant.
// It provides a CLI (via Cobra) for ingesting handbook PDFs, one-shot
// questions, the Telegram bot, and an optional HTTP API server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/avelkov/cardiobot/cmd/cardiobot/commands"
)

func main() {
	// Load .env if present; real env vars always win.
	_ = godotenv.Load()

	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
