// ABOUTME: DynamoDB implementation of the Store interface using aws-sdk-go-v2
// ABOUTME: Single-table layout: PK "<namespace>#<key>", SK "RECORD", JSON in attribute "value"

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const dynamoRecordSK = "RECORD"

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
type dynamodbAPI interface {
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoConfig holds settings for DynamoStore.
type DynamoConfig struct {
	Table    string
	Region   string
	Endpoint string // optional, e.g. DynamoDB Local
}

// DynamoStore implements the Store interface on a single DynamoDB table.
type DynamoStore struct {
	cfg    DynamoConfig
	api    dynamodbAPI
	logger *slog.Logger
}

// NewDynamoStore prepares a store; the AWS client is built by Start from
// the default credential chain.
func NewDynamoStore(cfg DynamoConfig) *DynamoStore {
	return &DynamoStore{
		cfg:    cfg,
		logger: slog.Default().With("component", "store", "backend", "dynamodb"),
	}
}

// Start loads AWS configuration and checks the table exists.
func (d *DynamoStore) Start(ctx context.Context) error {
	if strings.TrimSpace(d.cfg.Table) == "" {
		return errors.New("dynamodb: table name must not be empty")
	}

	if d.api == nil {
		var opts []func(*awsconfig.LoadOptions) error
		if d.cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(d.cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return unavailable("loading AWS config", err)
		}
		d.api = dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if d.cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(d.cfg.Endpoint)
			}
		})
	}

	if _, err := d.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.cfg.Table),
	}); err != nil {
		return unavailable("describing table "+d.cfg.Table, err)
	}

	d.logger.Info("DynamoDB store initialized", "table", d.cfg.Table)
	return nil
}

// Ping checks the table is reachable.
func (d *DynamoStore) Ping(ctx context.Context) error {
	if d.api == nil {
		return unavailable("describing table "+d.cfg.Table, errors.New("store not started"))
	}
	if _, err := d.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.cfg.Table),
	}); err != nil {
		return unavailable("describing table "+d.cfg.Table, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no long-lived connections.
func (d *DynamoStore) Close() error {
	return nil
}

// dynamoPK returns the partition key for a record.
func dynamoPK(namespace, key string) string {
	return namespace + "#" + key
}

// GetConversation returns the record for id, or the zero value.
func (d *DynamoStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	raw, ok, err := d.get(ctx, NamespaceConversation, id)
	if err != nil || !ok {
		return Conversation{}, err
	}
	return decodeConversation(raw)
}

// SetConversation writes the record for id.
func (d *DynamoStore) SetConversation(ctx context.Context, id string, conv Conversation) error {
	raw, err := encodeConversation(conv)
	if err != nil {
		return err
	}
	return d.put(ctx, NamespaceConversation, id, raw)
}

// DeleteConversation removes the record for id.
func (d *DynamoStore) DeleteConversation(ctx context.Context, id string) error {
	return d.delete(ctx, NamespaceConversation, id)
}

// ListConversationKeys returns every conversation ID.
func (d *DynamoStore) ListConversationKeys(ctx context.Context) ([]string, error) {
	return d.keys(ctx, NamespaceConversation)
}

// GetBotData returns the record for key, or the zero value.
func (d *DynamoStore) GetBotData(ctx context.Context, key string) (BotData, error) {
	raw, ok, err := d.get(ctx, NamespaceBotData, key)
	if err != nil || !ok {
		return BotData{}, err
	}
	return decodeBotData(raw)
}

// SetBotData writes the record for key.
func (d *DynamoStore) SetBotData(ctx context.Context, key string, data BotData) error {
	raw, err := encodeBotData(data)
	if err != nil {
		return err
	}
	return d.put(ctx, NamespaceBotData, key, raw)
}

// DeleteBotData removes the record for key.
func (d *DynamoStore) DeleteBotData(ctx context.Context, key string) error {
	return d.delete(ctx, NamespaceBotData, key)
}

// ListBotDataKeys returns every scope key.
func (d *DynamoStore) ListBotDataKeys(ctx context.Context) ([]string, error) {
	return d.keys(ctx, NamespaceBotData)
}

func (d *DynamoStore) itemKey(namespace, key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: dynamoPK(namespace, key)},
		"SK": &types.AttributeValueMemberS{Value: dynamoRecordSK},
	}
}

func (d *DynamoStore) get(ctx context.Context, namespace, key string) (string, bool, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.cfg.Table),
		Key:            d.itemKey(namespace, key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, unavailable("dynamodb get "+namespace, err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", false, nil
	}
	v, ok := out.Item["value"].(*types.AttributeValueMemberS)
	if !ok {
		return "", false, fmt.Errorf("dynamodb: %s record %q has no string value", namespace, key)
	}
	return v.Value, true, nil
}

func (d *DynamoStore) put(ctx context.Context, namespace, key, raw string) error {
	item := d.itemKey(namespace, key)
	item["value"] = &types.AttributeValueMemberS{Value: raw}

	if _, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.cfg.Table),
		Item:      item,
	}); err != nil {
		return unavailable("dynamodb put "+namespace, err)
	}
	return nil
}

func (d *DynamoStore) delete(ctx context.Context, namespace, key string) error {
	if _, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.cfg.Table),
		Key:       d.itemKey(namespace, key),
	}); err != nil {
		return unavailable("dynamodb delete "+namespace, err)
	}
	return nil
}

// keys scans the table for every record in namespace, following pagination.
func (d *DynamoStore) keys(ctx context.Context, namespace string) ([]string, error) {
	prefix := dynamoPK(namespace, "")
	keys := []string{}

	var startKey map[string]types.AttributeValue
	for {
		out, err := d.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(d.cfg.Table),
			FilterExpression:     aws.String("begins_with(PK, :prefix) AND SK = :sk"),
			ProjectionExpression: aws.String("PK"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prefix": &types.AttributeValueMemberS{Value: prefix},
				":sk":     &types.AttributeValueMemberS{Value: dynamoRecordSK},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, unavailable("dynamodb scan "+namespace, err)
		}
		for _, item := range out.Items {
			pk, ok := item["PK"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			keys = append(keys, strings.TrimPrefix(pk.Value, prefix))
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	sort.Strings(keys)
	return keys, nil
}

var _ Store = (*DynamoStore)(nil)
