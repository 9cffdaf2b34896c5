package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// schemaAPI is the subset of the DynamoDB client used to bootstrap tables.
type schemaAPI interface {
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// EnsureTables creates any of the four tables that do not exist yet and waits
// until each one is ACTIVE. Existing tables are left untouched.
func EnsureTables(ctx context.Context, api schemaAPI, tables Tables, maxWait time.Duration, log *zap.Logger) error {
	if api == nil {
		return errors.New("repository: api must not be nil")
	}
	if err := tables.validate(); err != nil {
		return err
	}
	if log == nil {
		log = zap.NewNop()
	}

	wanted := []struct {
		name      string
		clustered bool
	}{
		{tables.Messages, true},
		{tables.Conversations, true},
		{tables.Metadata, false},
		{tables.Lookup, false},
	}

	waiter := dynamodb.NewTableExistsWaiter(api, func(o *dynamodb.TableExistsWaiterOptions) {
		o.MinDelay = time.Second
		o.MaxDelay = 5 * time.Second
	})
	for _, tbl := range wanted {
		_, err := api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tbl.name)})
		if err == nil {
			log.Info("table_exists", zap.String("table", tbl.name))
			continue
		}
		var notFound *types.ResourceNotFoundException
		if !errors.As(err, &notFound) {
			return fmt.Errorf("repository: EnsureTables describe %s: %w", tbl.name, err)
		}

		if _, err := api.CreateTable(ctx, tableInput(tbl.name, tbl.clustered)); err != nil {
			return fmt.Errorf("repository: EnsureTables create %s: %w", tbl.name, err)
		}
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tbl.name)}, maxWait); err != nil {
			return fmt.Errorf("repository: EnsureTables wait %s: %w", tbl.name, err)
		}
		log.Info("table_created", zap.String("table", tbl.name))
	}
	return nil
}

// tableInput builds an on-demand table keyed by string PK and, when clustered,
// string SK.
func tableInput(name string, clustered bool) *dynamodb.CreateTableInput {
	in := &dynamodb.CreateTableInput{
		TableName:   aws.String(name),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
		},
	}
	if clustered {
		in.AttributeDefinitions = append(in.AttributeDefinitions,
			types.AttributeDefinition{AttributeName: aws.String("SK"), AttributeType: types.ScalarAttributeTypeS})
		in.KeySchema = append(in.KeySchema,
			types.KeySchemaElement{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange})
	}
	return in
}
