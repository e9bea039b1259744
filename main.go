package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"

	"soundd/internal/config"
	"soundd/internal/engine"
)

func main() {
	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:]) {
			return
		}
	}

	configPath := flag.String("config", config.DefaultPath(), "path to the daemon's JSON config file")
	flag.Parse()

	cfg := config.Load(*configPath)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	eng := engine.New(engine.Settings{
		CaptureEnabled:  cfg.Sound.CaptureEnabled,
		PlaybackEnabled: cfg.Sound.PlaybackEnabled,
	}, logger)

	framesPerBuffer := cfg.Sound.FramesPerBuffer
	if framesPerBuffer < minFramesPerBuffer {
		framesPerBuffer = minFramesPerBuffer
	}
	if err := eng.Open(framesPerBuffer); err != nil {
		log.Fatalf("[engine] %v", err)
	}
	defer eng.Close()

	watcher, err := config.NewWatcher(*configPath, logger)
	if err != nil {
		log.Printf("[config] watcher unavailable: %v", err)
	} else {
		watcher.Subscribe(func(updated config.Config) {
			eng.UpdateBassRange(updated.Sound.BassLowerHz, updated.Sound.BassHigherHz)
		})
		defer watcher.Close()
		go watcher.Run()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	addr := net.JoinHostPort("", fmt.Sprint(cfg.Server.Port))
	srv := NewServer(addr, eng, logger)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("[server] %v", err)
	}
}
