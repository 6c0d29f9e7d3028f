package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/crosswatch/crosswatch/internal/event"
	"github.com/crosswatch/crosswatch/internal/gateway"
	"github.com/crosswatch/crosswatch/internal/redis"
	"github.com/crosswatch/crosswatch/internal/setup"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	app, err := setup.InitializeApp(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.Cleanup(ctx)

	streamClient, err := app.RedisManager.GetClient(redis.EventStreamDBIndex)
	if err != nil {
		app.Logger.Fatal("Failed to get event stream client", zap.Error(err))
	}

	producer := event.NewProducer(streamClient, app.Logger)

	listener, err := gateway.New(app.Config.Discord.Token, producer, app.Logger)
	if err != nil {
		app.Logger.Fatal("Failed to create gateway listener", zap.Error(err))
	}

	if err := listener.Start(ctx); err != nil {
		app.Logger.Fatal("Failed to start gateway listener", zap.Error(err))
	}

	app.Logger.Info("Gateway started, waiting for interrupt signal")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	listener.Close(ctx)
}
