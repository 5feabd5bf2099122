package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/catdevman/image-transform/internal/app"
	"github.com/catdevman/image-transform/internal/config"
	"github.com/catdevman/image-transform/internal/receiver"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	p, err := cloudevents.NewHTTP(cloudevents.WithPort(cfg.Port))
	if err != nil {
		log.Fatalf("failed to create protocol: %v", err)
	}
	c, err := cloudevents.NewClient(p)
	if err != nil {
		log.Fatalf("failed to create client: %v", err)
	}

	r := receiver.New(a.Transform, a.Logger)
	a.Logger.Info("listening for storage events", "port", cfg.Port)
	if err := c.StartReceiver(ctx, r.Receive); err != nil {
		log.Fatalf("receiver stopped: %v", err)
	}
}
