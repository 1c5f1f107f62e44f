package main

import (
	"io"
	"log/slog"
	"os"

	"find-mentions/app"
)

func main() {
	// Keep structured logs off the interactive screen; they go to a file
	// when FIND_MENTIONS_LOG is set, otherwise they are discarded.
	configureLogging()
	os.Exit(app.Run(os.Args[1:]))
}

func configureLogging() {
	path := os.Getenv("FIND_MENTIONS_LOG")
	if path == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})))
}
