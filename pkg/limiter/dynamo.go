package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Sort key discriminators shared with every other consumer of the table.
const (
	skLimit    = "LIMIT"
	skSettings = "SETTINGS"
)

// DynamoAPI is the slice of the DynamoDB client the store uses. Satisfied by
// *dynamodb.Client; tests substitute a fake.
type DynamoAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStoreConfig describes the table the store operates on. The table
// must have a string partition key named PKName and a string sort key named
// SKName. PKPrefix, when set, is prepended to every identifier, letting the
// limiter share a table with other item kinds.
type DynamoStoreConfig struct {
	Table    string
	PKName   string
	SKName   string
	PKPrefix string
}

// DynamoStore is a BucketStore backed by a DynamoDB table.
//
// Both items for an identifier live under one partition key, discriminated
// by the sort key ("LIMIT" holds tokens/last_updated, "SETTINGS" holds the
// policy), so Fetch retrieves both in a single Query. Commits are
// conditional PutItems: CommitIfUnchanged requires the stored tokens and
// last_updated to still equal what Fetch observed, CreateIfAbsent requires
// no item to exist at all. A failed condition is contention, not an error.
type DynamoStore struct {
	client DynamoAPI
	cfg    DynamoStoreConfig
}

var (
	_ BucketStore = (*DynamoStore)(nil)
	_ PolicyStore = (*DynamoStore)(nil)
)

// NewDynamoStore constructs a DynamoStore. PKName and SKName default to
// "pk" and "sk".
func NewDynamoStore(client DynamoAPI, cfg DynamoStoreConfig) (*DynamoStore, error) {
	if client == nil {
		return nil, newConfigError("client", "must not be nil")
	}
	if cfg.Table == "" {
		return nil, newConfigError("table", "must not be empty")
	}
	if cfg.PKName == "" {
		cfg.PKName = "pk"
	}
	if cfg.SKName == "" {
		cfg.SKName = "sk"
	}
	return &DynamoStore{client: client, cfg: cfg}, nil
}

type dynamoLimitItem struct {
	Tokens      int64 `dynamodbav:"tokens"`
	LastUpdated int64 `dynamodbav:"last_updated"`
}

type dynamoSettingsItem struct {
	MaxTokens      int64 `dynamodbav:"max_tokens"`
	RefillRate     int64 `dynamodbav:"refill_rate"`
	RefillInterval int64 `dynamodbav:"refill_interval"`
}

func (si dynamoSettingsItem) policy() Policy {
	return Policy{
		MaxTokens:      si.MaxTokens,
		RefillRate:     si.RefillRate,
		RefillInterval: time.Duration(si.RefillInterval) * time.Second,
	}
}

func unixTime(sec int64) time.Time { return time.Unix(sec, 0) }

// dynamoToken is the fetch token: the exact stored values the conditional
// commit must still find.
type dynamoToken struct {
	tokens      int64
	lastUpdated int64
}

func (d *DynamoStore) pk(id string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: d.cfg.PKPrefix + id}
}

func (d *DynamoStore) Fetch(ctx context.Context, id string) (FetchResult, error) {
	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(d.cfg.Table),
		KeyConditionExpression:   aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{"#pk": d.cfg.PKName},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": d.pk(id),
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return FetchResult{}, classifyDynamoError("query", err)
	}

	res := FetchResult{}
	for _, item := range out.Items {
		sk, ok := item[d.cfg.SKName].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		switch sk.Value {
		case skLimit:
			if res.State != nil {
				continue
			}
			var li dynamoLimitItem
			if err := attributevalue.UnmarshalMap(item, &li); err != nil {
				return FetchResult{}, NewPermanentStoreError(fmt.Errorf("unmarshal LIMIT item: %w", err))
			}
			res.State = &BucketState{Tokens: li.Tokens, LastUpdated: unixTime(li.LastUpdated)}
			res.Token = dynamoToken{tokens: li.Tokens, lastUpdated: li.LastUpdated}
		case skSettings:
			if res.Policy != nil {
				continue
			}
			var si dynamoSettingsItem
			if err := attributevalue.UnmarshalMap(item, &si); err != nil {
				return FetchResult{}, NewPermanentStoreError(fmt.Errorf("unmarshal SETTINGS item: %w", err))
			}
			p := si.policy()
			res.Policy = &p
		}
	}
	return res, nil
}

func (d *DynamoStore) CommitIfUnchanged(ctx context.Context, id string, state BucketState, token FetchToken) (CommitResult, error) {
	observed, ok := token.(dynamoToken)
	if !ok {
		return CommitConflict, NewPermanentStoreError(errFetchToken)
	}

	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.cfg.Table),
		Item:                d.limitItem(id, state),
		ConditionExpression: aws.String("tokens = :tokens AND last_updated = :updated"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tokens":  numberAttr(observed.tokens),
			":updated": numberAttr(observed.lastUpdated),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return CommitConflict, nil
		}
		return CommitConflict, classifyDynamoError("put LIMIT", err)
	}
	return CommitOK, nil
}

func (d *DynamoStore) CreateIfAbsent(ctx context.Context, id string, state BucketState) (CreateResult, error) {
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(d.cfg.Table),
		Item:                     d.limitItem(id, state),
		ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{"#pk": d.cfg.PKName},
	})
	if err != nil {
		if isConditionFailed(err) {
			return CreateExists, nil
		}
		return CreateExists, classifyDynamoError("create LIMIT", err)
	}
	return CreateOK, nil
}

// PutPolicy writes the SETTINGS item for an identifier, replacing any
// existing one. Operator path; the engine never calls it.
func (d *DynamoStore) PutPolicy(ctx context.Context, id string, p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.cfg.Table),
		Item: map[string]types.AttributeValue{
			d.cfg.PKName:      d.pk(id),
			d.cfg.SKName:      &types.AttributeValueMemberS{Value: skSettings},
			"max_tokens":      numberAttr(p.MaxTokens),
			"refill_rate":     numberAttr(p.RefillRate),
			"refill_interval": numberAttr(int64(p.RefillInterval.Seconds())),
		},
	})
	if err != nil {
		return classifyDynamoError("put SETTINGS", err)
	}
	return nil
}

func (d *DynamoStore) limitItem(id string, state BucketState) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		d.cfg.PKName:   d.pk(id),
		d.cfg.SKName:   &types.AttributeValueMemberS{Value: skLimit},
		"tokens":       numberAttr(state.Tokens),
		"last_updated": numberAttr(state.LastUpdated.Unix()),
	}
}

func numberAttr(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", n)}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// classifyDynamoError splits SDK failures into the retryable and fatal
// halves of the store error taxonomy.
func classifyDynamoError(op string, err error) error {
	wrapped := fmt.Errorf("dynamodb %s: %w", op, err)

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewTransientStoreError(wrapped)
	}

	var throttled *types.ProvisionedThroughputExceededException
	var reqLimit *types.RequestLimitExceeded
	var internal *types.InternalServerError
	if errors.As(err, &throttled) || errors.As(err, &reqLimit) || errors.As(err, &internal) {
		return NewTransientStoreError(wrapped)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceUnavailable", "TransactionConflictException":
			return NewTransientStoreError(wrapped)
		}
		return NewPermanentStoreError(wrapped)
	}

	// Connection-level failures (refused, reset, DNS) are worth retrying.
	return NewTransientStoreError(wrapped)
}
