package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/chatrelay/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log.SetPrefix("[chatrelay] ")

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	server.SetConfig(cfg)

	hub := server.NewHub()
	store := server.NewMessageStore(cfg.HistoryLimit)
	registry := server.NewRegistry()
	chat := server.NewChatHandler(hub, store, registry)

	mux := server.SetupRoutes(chat)
	httpServer := server.CreateServer(cfg.Port, mux)

	server.StartHub(hub)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
			log.Printf("HTTP shutdown error: %v", err)
		}
		if err := hub.Shutdown(shutdownTimeout); err != nil {
			log.Printf("Hub shutdown error: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
