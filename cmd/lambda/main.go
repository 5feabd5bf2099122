package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/catdevman/image-transform/internal/app"
	"github.com/catdevman/image-transform/internal/config"
	"github.com/catdevman/image-transform/internal/processor"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal(err)
	}

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	h := &processor.Handler{
		Transform: a.Transform,
		Logger:    a.Logger,
	}

	switch cfg.Trigger {
	case "sqs":
		lambda.Start(h.InvokeSQS)
	default:
		lambda.Start(h.Invoke)
	}
}
