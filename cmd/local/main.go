package main

import (
	"context"
	"flag"
	"log"

	"github.com/catdevman/image-transform/internal/app"
	"github.com/catdevman/image-transform/internal/config"
	"github.com/catdevman/image-transform/internal/model"
)

func main() {
	bucket := flag.String("bucket", "", "Source bucket (defaults to SOURCE_BUCKET)")
	key := flag.String("key", "", "Object key")
	configPath := flag.String("config", "", "Optional YAML config file")
	flag.Parse()

	if *key == "" {
		log.Fatal("Usage: go run ./cmd/local -key <key> [-bucket <bucket>] [-config <file>]")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *bucket != "" {
		cfg.SourceBucket = *bucket
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	out, err := a.Transform.Handle(ctx, model.Event{Key: *key, Bucket: cfg.SourceBucket})
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	log.Printf("%s: %s", out.Key, out.Status)
	if out.Record != nil {
		for _, l := range out.Record.DerivedLocations {
			log.Printf("  %s -> %s", l.Purpose, l.Location)
		}
	}
}
