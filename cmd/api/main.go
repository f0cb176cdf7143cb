package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/decentai/points-ledger/internal/config"
	"github.com/decentai/points-ledger/internal/gateway"
	"github.com/decentai/points-ledger/internal/infra/http/handler"
	"github.com/decentai/points-ledger/internal/infra/kafka"
	"github.com/decentai/points-ledger/internal/infra/memory"
	"github.com/decentai/points-ledger/internal/infra/mongodb"
	"github.com/decentai/points-ledger/internal/infra/postgres"
	"github.com/decentai/points-ledger/internal/infra/rabbitmq"
	redisInfra "github.com/decentai/points-ledger/internal/infra/redis"
	"github.com/decentai/points-ledger/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := config.SetupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				log.Error().Err(err).Msg("failed to close resource")
			}
		}
	}()

	accounts, ledger, cleanup := openStore(ctx, cfg.Store)
	defer cleanup()

	publisher, closer := openPublisher(cfg.Events)
	if closer != nil {
		closers = append(closers, closer)
	}

	var idempotencyRepo gateway.IdempotencyRepository = memory.NewIdempotencyRepository()
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		closers = append(closers, redisClient)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("could not reach Redis (idempotency keys kept in memory)")
		} else {
			log.Info().Msg("connected to Redis")
			idempotencyRepo = redisInfra.NewIdempotencyRepository(redisClient)
		}
	}

	// Use cases
	transferUseCase := usecase.NewTransferMoney(accounts, ledger, publisher,
		cfg.Transfer.Options(logger.With().Str("component", "transfer").Logger()))
	handlers := handler.Handlers{
		Transfers: handler.NewTransferHandler(transferUseCase, usecase.NewListTransfers(ledger)),
		Accounts: handler.NewAccountHandler(
			usecase.NewCreateAccount(accounts),
			usecase.NewGetBalance(accounts),
			usecase.NewGetHistory(accounts, ledger),
			usecase.NewDeactivateAccount(accounts),
		),
		Admin: handler.NewAdminHandler(usecase.NewReconcile(accounts, ledger, logger.With().Str("component", "reconcile").Logger())),
	}

	router := handler.NewRouter(handlers, handler.RouterOptions{
		Idempotency:    idempotencyRepo,
		IdempotencyTTL: cfg.Redis.IdempotencyTTL,
		Timeout:        cfg.HTTP.Timeout,
		AccessLog:      true,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Str("store", cfg.Store.Backend).Str("broker", cfg.Events.Broker).Msg("points ledger listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	// Transfers whose callers timed out are still running against the store.
	if err := transferUseCase.Drain(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("transfers still running at exit")
	}
}

// openStore connects the configured backend. The returned cleanup releases it.
func openStore(ctx context.Context, cfg config.StoreConfig) (gateway.AccountStore, gateway.LedgerLog, func()) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("could not connect to the database")
		}
		if err := pool.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("database is not responding")
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("failed to apply schema")
		}
		log.Info().Msg("connected to PostgreSQL")
		return postgres.NewAccountStore(pool), postgres.NewLedgerLog(pool), pool.Close

	case config.BackendMongo:
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create MongoDB client")
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx, nil); err != nil {
			log.Fatal().Err(err).Msg("MongoDB is not responding")
		}
		ledger := mongodb.NewLedgerLog(client, cfg.MongoDB)
		if err := ledger.EnsureIndexes(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to create MongoDB indexes")
		}
		log.Info().Msg("connected to MongoDB")
		disconnect := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to disconnect from MongoDB")
			}
		}
		return mongodb.NewAccountStore(client, cfg.MongoDB), ledger, disconnect
	}

	log.Warn().Msg("using in-memory store; balances are lost on restart")
	return memory.NewAccountStore(), memory.NewLedgerLog(), func() {}
}

// openPublisher returns a nil publisher when events are off or the broker is
// unreachable. Transfers never depend on it.
func openPublisher(cfg config.EventsConfig) (gateway.EventPublisher, io.Closer) {
	switch cfg.Broker {
	case config.BrokerRabbitMQ:
		conn, err := amqp.DialConfig(cfg.RabbitMQURL, amqp.Config{
			Properties: amqp.Table{"connection_name": "PointsLedger_Publisher"},
		})
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to RabbitMQ (events will not be sent)")
			return nil, nil
		}
		ch, err := conn.Channel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open RabbitMQ channel")
		}
		if err := rabbitmq.DeclareExchange(ch); err != nil {
			log.Fatal().Err(err).Msg("failed to declare exchange")
		}
		log.Info().Msg("connected to RabbitMQ")
		return rabbitmq.NewRabbitMQPublisher(ch), conn

	case config.BrokerKafka:
		p := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Msg("publishing events to Kafka")
		return p, p
	}
	return nil, nil
}
