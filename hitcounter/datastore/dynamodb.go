package datastore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

type dynamoDBDatastore struct {
	svc       *dynamodb.Client
	tableName string
	keyGetter func(identifier string) map[string]string // Key getter using the identifier provided. Depending on your primary key and sort key schema, generate relevant map.
	ttlAttr   string                                    // Attribute name for the TTL (time-to-live)
	countAttr string                                    // Attribute name for the count
}

// NewDynamoDBDatastore builds a Datastore on top of a DynamoDB table. The SDK retryer is
// disabled, callers decide on retries.
func NewDynamoDBDatastore(
	cfg aws.Config,
	tableName string,
	keyGetter func(identifier string) map[string]string,
	ttlAttr string,
	countAttr string,
) *dynamoDBDatastore {
	return &dynamoDBDatastore{
		svc: dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			o.Retryer = aws.NopRetryer{}
		}),
		tableName: tableName,
		keyGetter: keyGetter,
		ttlAttr:   ttlAttr,
		countAttr: countAttr,
	}
}

func (d *dynamoDBDatastore) IncrKey(ctx context.Context, key KeyConfig) (int64, error) {
	// Define the update expression
	update := expression.Add(
		expression.Name(d.countAttr),
		expression.Value(1),
	)
	if key.MaxLifespan > 0 {
		ttl := time.Now().Add(key.MaxLifespan).Unix()
		update = update.Set(
			expression.Name(d.ttlAttr),
			expression.IfNotExists(expression.Name(d.ttlAttr), expression.Value(ttl)),
		)
	}

	// Build the DynamoDB expression
	expr, err := expression.NewBuilder().
		WithUpdate(update).
		Build()
	if err != nil {
		return 0, fmt.Errorf("failed to build DynamoDB expression: %w", err)
	}

	keyMap, err := attributevalue.MarshalMap(d.keyGetter(key.Key))
	if err != nil {
		return 0, fmt.Errorf("failed to build DynamoDB key map: %w", err)
	}

	// Create the UpdateItem input
	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.tableName),
		Key:                       keyMap,
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueUpdatedNew,
	}

	// Execute the UpdateItem request
	result, err := d.svc.UpdateItem(ctx, input)
	if err != nil {
		return 0, classifyDynamoDBError(fmt.Errorf("failed to update item: %w", err))
	}

	// Extract the new count from the result
	countAttr, ok := result.Attributes[d.countAttr]
	if !ok {
		return 0, fmt.Errorf("count attribute %q missing from UpdateItem response", d.countAttr)
	}
	var count int64
	if err := attributevalue.Unmarshal(countAttr, &count); err != nil {
		return 0, fmt.Errorf("failed to unmarshal count attribute: %w", err)
	}

	return count, nil
}

func (d *dynamoDBDatastore) Ping(ctx context.Context) error {
	_, err := d.svc.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	if err != nil {
		return classifyDynamoDBError(fmt.Errorf("failed to describe table: %w", err))
	}
	return nil
}

// Only failures to get the request to the service are transient. API errors mean the
// service answered and are returned untouched.
func classifyDynamoDBError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var sendErr *smithyhttp.RequestSendError
	if errors.As(err, &sendErr) {
		return NewTransientError(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewTransientError(err)
	}

	return err
}
