// Package bootstrap wires the adapters and services for the api and worker
// processes.
package bootstrap

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"mail_worker/adapter/out/imap"
	"mail_worker/adapter/out/messaging"
	"mail_worker/adapter/out/mongodb"
	"mail_worker/adapter/out/persistence"
	"mail_worker/adapter/out/provider"
	"mail_worker/config"
	"mail_worker/core/service/auth"
	"mail_worker/core/service/ingest"
	"mail_worker/core/service/parse"
	"mail_worker/internal/stream"
	"mail_worker/pkg/crypto"
	"mail_worker/pkg/logger"
)

// consumerGroup is shared by every worker instance so stream entries are
// load-balanced, not broadcast.
const consumerGroup = "mail-workers"

// Dependencies holds every wired adapter and the shared services.
type Dependencies struct {
	Config *config.Config

	DB     *sqlx.DB
	Mongo  *mongo.Client
	Redis  *redis.Client
	Stream *stream.RedisStream

	AccountRepo   *mongodb.AccountAdapter
	ProcessedRepo *mongodb.ProcessedAdapter
	SettingsRepo  *mongodb.SettingsAdapter
	UserRegistry  *mongodb.UserRegistryAdapter
	Vault         *persistence.VaultAdapter

	Providers *provider.Registry
	Connector *imap.Connector
	ChatSink  *messaging.ChatSinkAdapter
	Events    *messaging.EventPublisherAdapter
	Producer  *stream.Producer

	IngestService *ingest.Service
	EditStates    *auth.EditStateService
}

// NewDependencies connects the backing stores and wires the shared graph.
// The returned cleanup closes every connection.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	encryptor, err := crypto.NewEncryptor([]byte(cfg.EncryptionKey))
	if err != nil {
		return nil, nil, err
	}

	db, err := persistence.NewDB(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	vault := persistence.NewVaultAdapter(db, encryptor)
	if err := vault.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, nil, err
	}

	mongoClient, err := mongodb.NewClient(cfg.MongoDBURL, cfg.MongoDBName)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	mongoDB := mongoClient.Database(cfg.MongoDBName)

	accountRepo := mongodb.NewAccountAdapter(mongoDB)
	processedRepo := mongodb.NewProcessedAdapter(mongoDB)
	settingsRepo := mongodb.NewSettingsAdapter(mongoDB)
	userRegistry := mongodb.NewUserRegistryAdapter(mongoDB)

	indexCtx, cancelIndex := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelIndex()
	if err := accountRepo.EnsureIndexes(indexCtx); err != nil {
		logger.WithError(err).Warn("[NewDependencies] account index creation failed")
	}
	if err := processedRepo.EnsureIndexes(indexCtx); err != nil {
		logger.WithError(err).Warn("[NewDependencies] processed index creation failed")
	}

	redisClient, err := stream.NewClient(cfg.RedisURL)
	if err != nil {
		db.Close()
		disconnectMongo(mongoClient)
		return nil, nil, err
	}
	redisStream := stream.NewRedisStream(redisClient, consumerGroup)

	producer := stream.NewProducer(redisStream)
	chatSink := messaging.NewChatSinkAdapter(redisStream)
	events := messaging.NewEventPublisherAdapter(redisStream)

	providers := provider.NewRegistry(&provider.RegistryConfig{
		Google: &provider.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
		},
		Microsoft: &provider.MicrosoftConfig{
			ClientID: cfg.MicrosoftClientID,
			TenantID: cfg.MicrosoftTenantID,
		},
	})
	connector := imap.NewConnector(cfg.IMAPTimeout, cfg.IdleRefreshInterval, parse.Parser())

	ingestService := ingest.NewService(
		accountRepo, processedRepo, settingsRepo, vault,
		providers, connector, chatSink, cfg.FetchLimit,
	)
	editStates := auth.NewEditStateService(accountRepo, events)

	deps := &Dependencies{
		Config:        cfg,
		DB:            db,
		Mongo:         mongoClient,
		Redis:         redisClient,
		Stream:        redisStream,
		AccountRepo:   accountRepo,
		ProcessedRepo: processedRepo,
		SettingsRepo:  settingsRepo,
		UserRegistry:  userRegistry,
		Vault:         vault,
		Providers:     providers,
		Connector:     connector,
		ChatSink:      chatSink,
		Events:        events,
		Producer:      producer,
		IngestService: ingestService,
		EditStates:    editStates,
	}

	cleanup := func() {
		if err := redisClient.Close(); err != nil {
			logger.WithError(err).Warn("[cleanup] redis close failed")
		}
		disconnectMongo(mongoClient)
		if err := db.Close(); err != nil {
			logger.WithError(err).Warn("[cleanup] postgres close failed")
		}
	}
	return deps, cleanup, nil
}

func disconnectMongo(client *mongo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		logger.WithError(err).Warn("[cleanup] mongodb disconnect failed")
	}
}
