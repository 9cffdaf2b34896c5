// Command setupdb creates the keyspace and tables for the configured store
// backend. It is safe to run repeatedly.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/cenkalti/backoff/v4"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"messenger/internal/app"
	"messenger/internal/config"
	"messenger/internal/logging"
	"messenger/internal/repository"
)

const (
	connectAttempts = 10
	connectDelay    = 5 * time.Second
	tableWait       = 5 * time.Minute
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(context.Background(), cfg, log); err != nil {
		log.Fatal("schema setup failed", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	log.Info("schema ready", zap.String("backend", cfg.StoreBackend))
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	switch cfg.StoreBackend {
	case config.BackendCassandra:
		return setupCassandra(ctx, cfg, log)
	case config.BackendDynamoDB:
		awsCfg, err := app.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return err
		}
		client := awsdynamodb.NewFromConfig(awsCfg)
		return retry(ctx, connectAttempts, connectDelay, log, func() error {
			return repository.EnsureTables(ctx, client, cfg.DynamoTables(), tableWait, log)
		})
	case config.BackendMemory:
		log.Info("memory backend has no schema")
		return nil
	}
	return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func setupCassandra(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	sessCfg, err := app.CassandraSettings(ctx, cfg, log)
	if err != nil {
		return err
	}
	// The keyspace may not exist yet.
	sessCfg.Keyspace = ""

	return retry(ctx, connectAttempts, connectDelay, log, func() error {
		session, err := repository.NewCassandraSession(sessCfg)
		if err != nil {
			return err
		}
		defer session.Close()
		return repository.Migrate(session, cfg.Cassandra.Keyspace, cfg.Cassandra.ReplicationFactor)
	})
}

// retry calls fn up to attempts times, sleeping delay between failures.
func retry(ctx context.Context, attempts int, delay time.Duration, log *zap.Logger, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)),
		ctx,
	)
	attempt := 0
	err := backoff.RetryNotify(
		func() error {
			attempt++
			return fn()
		},
		policy,
		func(err error, next time.Duration) {
			log.Warn("setup attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", attempts),
				zap.Duration("delay", next),
				zap.Error(err),
			)
		},
	)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
}
