package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/crosswatch/crosswatch/internal/cache"
	"github.com/crosswatch/crosswatch/internal/detection"
	internaldiscord "github.com/crosswatch/crosswatch/internal/discord"
	"github.com/crosswatch/crosswatch/internal/event"
	"github.com/crosswatch/crosswatch/internal/redis"
	"github.com/crosswatch/crosswatch/internal/setup"
	"github.com/crosswatch/crosswatch/internal/worker/command"
	"github.com/crosswatch/crosswatch/internal/worker/core"
	"github.com/crosswatch/crosswatch/internal/worker/interaction"
	"github.com/crosswatch/crosswatch/internal/worker/message"
	"github.com/disgoorg/disgo/rest"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := setup.InitializeApp(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.Cleanup(context.Background())

	streamClient, err := app.RedisManager.GetClient(redis.EventStreamDBIndex)
	if err != nil {
		app.Logger.Fatal("Failed to get event stream client", zap.Error(err))
	}

	cacheClient, err := app.RedisManager.GetClient(redis.MessageCacheDBIndex)
	if err != nil {
		app.Logger.Fatal("Failed to get message cache client", zap.Error(err))
	}

	// REST-only Discord client; the gateway process owns the socket.
	restClient := rest.New(rest.NewClient(app.Config.Discord.Token))
	actions := internaldiscord.NewActions(restClient, app.Logger)

	repo := app.DB.Model()
	msgCache := cache.NewMessageCache(cacheClient, app.Logger)
	detector := detection.NewDetector(msgCache, app.Logger)
	links := detection.NewLinkChecker(actions, actions, app.Logger)

	messageWorker := message.New(repo, detector, links, msgCache, actions, app.Logger)
	interactionWorker := interaction.New(repo, actions, app.Logger)
	commandWorker := command.New(repo, actions, app.Logger)

	group := app.Config.Bot.ConsumerGroup

	type streamWorker struct {
		stream     string
		workerType string
		handler    event.Handler
	}

	workers := []streamWorker{
		{event.InteractionStream, "interaction", interactionWorker.Handle},
		{event.CommandStream, "command", commandWorker.Handle},
	}

	for i := range app.Config.Bot.MessageConsumers {
		workers = append(workers, streamWorker{
			stream:     event.MessageStream,
			workerType: fmt.Sprintf("message-%d", i),
			handler:    messageWorker.Handle,
		})
	}

	var wg sync.WaitGroup

	for _, w := range workers {
		reporter := core.NewStatusReporter(app.StatusClient, w.workerType, app.Logger)

		consumer, err := event.NewConsumer(ctx, streamClient, w.stream, group, w.workerType, app.Logger)
		if err != nil {
			app.Logger.Fatal("Failed to create consumer",
				zap.String("stream", w.stream),
				zap.Error(err))
		}

		reporter.Start(ctx)

		wg.Add(1)

		go func() {
			defer wg.Done()
			defer reporter.Stop()

			handler := func(ctx context.Context, payload []byte) error {
				err := w.handler(ctx, payload)
				if err == nil {
					reporter.IncrementHandled()
				}

				return err
			}

			if err := consumer.Run(ctx, handler); err != nil && ctx.Err() == nil {
				app.Logger.Error("Consumer stopped unexpectedly",
					zap.String("stream", w.stream),
					zap.Error(err))
			}
		}()
	}

	app.Logger.Info("Bot started, waiting for interrupt signal",
		zap.Int("consumers", len(workers)))

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	cancel()
	wg.Wait()
}
