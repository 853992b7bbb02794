// Package di wires the application together. Providers are plain functions
// so the dependency graph is visible in one file and testable without
// code generation.
package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"graphledger-backend/application/bridge"
	cmdhandlers "graphledger-backend/application/commands/handlers"
	"graphledger-backend/application/fetch"
	"graphledger-backend/application/ports"
	"graphledger-backend/application/projections"
	"graphledger-backend/application/queries"
	"graphledger-backend/infrastructure/cache"
	"graphledger-backend/infrastructure/config"
	"graphledger-backend/infrastructure/messaging"
	ebpublisher "graphledger-backend/infrastructure/messaging/eventbridge"
	dynamostore "graphledger-backend/infrastructure/persistence/dynamodb"
	"graphledger-backend/infrastructure/persistence/memory"
	"graphledger-backend/infrastructure/persistence/snapshots"
	"graphledger-backend/interfaces/http/rest"
	"graphledger-backend/interfaces/http/rest/handlers"
	"graphledger-backend/pkg/observability"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"
)

// Container holds all application dependencies
type Container struct {
	Config          *config.Config
	Logger          *zap.Logger
	Metrics         *observability.Collector
	EventLog        ports.EventLog
	SnapshotStore   ports.SnapshotStore
	SnapshotManager *snapshots.Manager
	Publisher       ports.EventPublisher
	Cache           ports.Cache
	CommandHandler  *cmdhandlers.GraphCommandHandler
	Projector       *projections.Projector
	QueryService    *queries.GraphQueryService
	Fetcher         *fetch.Fetcher
	Bridge          *bridge.Bridge
	Handler         http.Handler
}

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	logger, err := ProvideLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	var metrics *observability.Collector
	if cfg.EnableMetrics {
		metrics = observability.NewCollector("graphledger")
	}

	eventLog, snapshotStore, err := ProvideStorage(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	publisher, err := ProvidePublisher(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("publisher: %w", err)
	}

	manager := snapshots.NewManager(eventLog, snapshotStore, snapshots.Policy{
		EveryNEvents: uint64(cfg.Snapshots.EveryNEvents),
		MaxAge:       cfg.SnapshotMaxAge(),
	}, metrics, logger)

	commandHandler := cmdhandlers.NewGraphCommandHandler(eventLog, manager, publisher, metrics, logger)

	readCache := cache.NewMemoryCache(cfg.Projections.CacheMaxItems, logger)
	cacheTTL := time.Duration(cfg.Projections.CacheTTLSeconds) * time.Second
	projector := projections.NewProjector(eventLog, readCache, cacheTTL, cfg.Projections.ReorderWindow, metrics, logger)
	queryService := queries.NewGraphQueryService(projector, readCache, cacheTTL, metrics, logger)

	fetcher := fetch.NewFetcher(eventLog, cfg.Fetch.MaxEvents,
		time.Duration(cfg.Fetch.TimeoutMS)*time.Millisecond, metrics, logger)

	b := bridge.New(cfg.Bridge.CommandQueueSize, cfg.Bridge.EventBufferSize,
		time.Duration(cfg.Bridge.SubmitTimeoutMS)*time.Millisecond, metrics, logger)

	router := rest.NewRouter(
		handlers.NewGraphHandler(commandHandler, b, logger),
		handlers.NewQueryHandler(queryService, logger),
		handlers.NewReplayHandler(fetcher, logger),
		handlers.NewBridgeHandler(b, logger),
		metrics,
		logger,
		rest.Options{EnableCORS: cfg.EnableCORS, EnableMetrics: cfg.EnableMetrics},
	)

	return &Container{
		Config:          cfg,
		Logger:          logger,
		Metrics:         metrics,
		EventLog:        eventLog,
		SnapshotStore:   snapshotStore,
		SnapshotManager: manager,
		Publisher:       publisher,
		Cache:           readCache,
		CommandHandler:  commandHandler,
		Projector:       projector,
		QueryService:    queryService,
		Fetcher:         fetcher,
		Bridge:          b,
		Handler:         router.Setup(),
	}, nil
}

// ProvideLogger builds the zap logger for the configured environment
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.IsDevelopment() {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zapCfg.Level = level

	return zapCfg.Build()
}

// ProvideStorage selects the event log and snapshot store backends
func ProvideStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.EventLog, ports.SnapshotStore, error) {
	switch cfg.EventStore {
	case "memory":
		return memory.NewEventLog(cfg.IdempotencyTTL(), logger), memory.NewSnapshotStore(), nil

	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, nil, fmt.Errorf("load AWS config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg)

		eventLog := dynamostore.NewEventLog(client, dynamostore.EventLogConfig{
			TableName:          cfg.DynamoDBTable,
			TimeIndexName:      cfg.TimeIndexName,
			IdempotencyTTL:     cfg.IdempotencyTTL(),
			SubscriptionPollMS: cfg.SubscriptionPollMS,
		}, logger)
		snapshotStore := dynamostore.NewSnapshotStore(client, cfg.DynamoDBTable, 0)
		return eventLog, snapshotStore, nil

	default:
		return nil, nil, fmt.Errorf("unknown event store backend %q", cfg.EventStore)
	}
}

// ProvidePublisher selects the downstream event publisher
func ProvidePublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.EventPublisher, error) {
	switch cfg.Publisher {
	case "log":
		return messaging.NewLogPublisher(logger), nil

	case "eventbridge":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		client := eventbridge.NewFromConfig(awsCfg)
		return ebpublisher.NewPublisher(client, cfg.EventBusName, ebpublisher.DefaultRetryConfig(), logger), nil

	default:
		return nil, fmt.Errorf("unknown publisher backend %q", cfg.Publisher)
	}
}
