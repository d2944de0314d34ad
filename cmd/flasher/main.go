package main

import (
	"log/slog"
	"os"

	"github.com/imageflash/flasher/cmd/flasher/commands"
)

func main() {
	// Logs go to stderr so progress on stdout stays readable
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
