// Package app wires configuration, the selected store backend, the messaging
// service and the HTTP handler together for the entrypoints under cmd/.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"messenger/handler"
	"messenger/internal/config"
	"messenger/internal/ids"
	"messenger/internal/integrations/paramstore"
	"messenger/internal/repository"
	"messenger/internal/usecase"
)

// App holds the long-lived pieces built from a Config.
type App struct {
	Store   repository.Store
	Service *usecase.Service
	Handler *handler.Handler
}

// Close releases the store.
func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// Build connects the configured backend and assembles the handler. Metrics
// are registered on reg when it is non-nil.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, reg prometheus.Registerer) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}

	store, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	svc, err := usecase.NewService(store, ids.NewGenerator(),
		usecase.WithLogger(log),
		usecase.WithMetrics(usecase.NewMetrics(reg)),
		usecase.WithStoreTimeout(cfg.StoreTimeout),
		usecase.WithMaxContentLength(cfg.MaxContentLength),
		usecase.WithMaxPageLimit(cfg.MaxPageLimit),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("app: create service: %w", err)
	}

	h, err := handler.NewHandler(svc, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("app: create handler: %w", err)
	}
	return &App{Store: store, Service: svc, Handler: h}, nil
}

// OpenStore returns the Store for cfg.StoreBackend.
func OpenStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		log.Warn("using in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), nil

	case config.BackendDynamoDB:
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.DynamoTables(),
			repository.WithBatchSize(cfg.ScanBatchSize),
			repository.WithLogger(log),
		)
		if err != nil {
			return nil, fmt.Errorf("app: create dynamodb store: %w", err)
		}
		return client, nil

	case config.BackendCassandra:
		sessCfg, err := CassandraSettings(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		session, err := repository.NewCassandraSession(sessCfg)
		if err != nil {
			return nil, err
		}
		store, err := repository.NewCassandraStore(session,
			repository.WithCassandraPageSize(cfg.ScanBatchSize),
			repository.WithCassandraLogger(log),
		)
		if err != nil {
			session.Close()
			return nil, fmt.Errorf("app: create cassandra store: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("app: unknown store backend %q", cfg.StoreBackend)
}

// LoadAWSConfig loads the default SDK configuration with the configured retry
// budget.
func LoadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRetryMaxAttempts(cfg.AWSMaxAttempts))
	if err != nil {
		return aws.Config{}, fmt.Errorf("app: load aws config: %w", err)
	}
	return awsCfg, nil
}

// CassandraSettings returns the session settings, filling in credentials from
// Parameter Store when PARAM_PREFIX is set and no username was configured.
func CassandraSettings(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.CassandraConfig, error) {
	sessCfg := cfg.CassandraSession()
	if cfg.ParamPrefix == "" || sessCfg.Username != "" {
		return sessCfg, nil
	}

	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return repository.CassandraConfig{}, err
	}
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return repository.CassandraConfig{}, err
	}
	return withCredentials(ctx, sessCfg, params, cfg.ParamPrefix, log)
}

func withCredentials(ctx context.Context, sessCfg repository.CassandraConfig, g paramstore.Getter, prefix string, log *zap.Logger) (repository.CassandraConfig, error) {
	if log == nil {
		log = zap.NewNop()
	}
	creds, err := paramstore.CassandraCredentials(ctx, g, prefix)
	if err != nil {
		return repository.CassandraConfig{}, fmt.Errorf("app: %w", err)
	}
	log.Info("loaded cassandra credentials from parameter store", zap.String("prefix", prefix))
	sessCfg.Username = creds.Username
	sessCfg.Password = creds.Password
	return sessCfg, nil
}
