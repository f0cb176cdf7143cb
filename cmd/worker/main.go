package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/decentai/points-ledger/internal/config"
	"github.com/decentai/points-ledger/internal/infra/mongodb"
	"github.com/decentai/points-ledger/internal/infra/rabbitmq"
)

// The audit worker copies every TransferCommitted event from RabbitMQ into a
// MongoDB audit collection.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	config.SetupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mongoClient, err := mongo.Connect(options.Client().ApplyURI(cfg.Store.MongoURI))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create MongoDB client")
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to disconnect from MongoDB")
		}
	}()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mongoClient.Ping(pingCtx, nil); err != nil {
		log.Fatal().Err(err).Msg("MongoDB is not responding")
	}
	log.Info().Msg("connected to MongoDB")
	auditRepo := mongodb.NewAuditRepository(mongoClient, cfg.Worker.AuditDB)

	conn, err := amqp.DialConfig(cfg.Events.RabbitMQURL, amqp.Config{
		Properties: amqp.Table{"connection_name": "AuditWorker_Consumer"},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close RabbitMQ connection")
		}
	}()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open channel")
	}
	if err := rabbitmq.SetupAuditQueue(ch, cfg.Worker.Queue); err != nil {
		log.Fatal().Err(err).Msg("failed to set up audit queue")
	}

	consumer := rabbitmq.NewConsumer(ch, cfg.Worker.Queue, auditRepo)
	if err := consumer.Run(ctx); err != nil {
		// Exit non-zero so the orchestrator restarts us.
		log.Error().Err(err).Msg("audit worker stopped")
		os.Exit(1)
	}
	log.Info().Msg("shutting down worker")
}
