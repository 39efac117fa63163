package credstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	// ErrExists is returned by CreateTenant when the tenant is already registered.
	ErrExists = errors.New("tenant already exists")
	// ErrNotFound is returned by updates and deletes on a missing tenant.
	ErrNotFound = errors.New("tenant not found")
)

// Credentials is the per-tenant credential set. The tenant ID doubles as
// the application ID for token caching.
type Credentials struct {
	TenantID       string    `dynamodbav:"tenant_id" json:"tenant_id" validate:"required,max=64,tenantid"`
	CorpID         string    `dynamodbav:"corp_id" json:"corp_id" validate:"required"`
	AgentID        int64     `dynamodbav:"agent_id" json:"agent_id" validate:"gt=0"`
	Secret         string    `dynamodbav:"secret" json:"secret,omitempty" validate:"required"`
	Token          string    `dynamodbav:"token,omitempty" json:"token,omitempty" validate:"omitempty,alphanum,max=32"`
	EncodingAESKey string    `dynamodbav:"aes_key,omitempty" json:"aes_key,omitempty" validate:"omitempty,len=43"`
	CreatedAt      time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// CallbackReady reports whether the callback token and key are configured.
func (c *Credentials) CallbackReady() bool {
	return c.Token != "" && c.EncodingAESKey != ""
}

// Update lists the fields to change; nil fields are left alone. Token and
// EncodingAESKey are only written as a pair.
type Update struct {
	Secret         *string
	AgentID        *int64
	Token          *string
	EncodingAESKey *string
}

// Apply copies the set fields onto c.
func (u Update) Apply(c *Credentials) {
	if u.Secret != nil {
		c.Secret = *u.Secret
	}
	if u.AgentID != nil {
		c.AgentID = *u.AgentID
	}
	if u.Token != nil && u.EncodingAESKey != nil {
		c.Token, c.EncodingAESKey = *u.Token, *u.EncodingAESKey
	}
}

// Client is the interface for credential store operations.
// GetTenant returns (nil, nil) when the tenant does not exist.
type Client interface {
	GetTenant(ctx context.Context, tenantID string) (*Credentials, error)
	CreateTenant(ctx context.Context, creds *Credentials) error
	// UpdateTenant writes every set field in one conditional update, so
	// either all of them land or none do.
	UpdateTenant(ctx context.Context, tenantID string, u Update) error
	ListAll(ctx context.Context) ([]*Credentials, error)
	DeleteTenant(ctx context.Context, tenantID string) error
}

// DynamoClient implements Client on a DynamoDB table keyed by tenant_id.
type DynamoClient struct {
	db        *dynamodb.Client
	tableName string
}

func New(db *dynamodb.Client, tableName string) *DynamoClient {
	return &DynamoClient{db: db, tableName: tableName}
}

func tenantKey(tenantID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"tenant_id": &types.AttributeValueMemberS{Value: tenantID},
	}
}

func (c *DynamoClient) GetTenant(ctx context.Context, tenantID string) (*Credentials, error) {
	out, err := c.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            tenantKey(tenantID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var creds Credentials
	if err := attributevalue.UnmarshalMap(out.Item, &creds); err != nil {
		return nil, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return &creds, nil
}

// CreateTenant stores a new credential set; ErrExists if the ID is taken.
func (c *DynamoClient) CreateTenant(ctx context.Context, creds *Credentials) error {
	item, err := attributevalue.MarshalMap(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	_, err = c.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(tenant_id)"),
	})
	if err != nil {
		return conditionErr("dynamodb PutItem", err, ErrExists)
	}
	return nil
}

func (c *DynamoClient) UpdateTenant(ctx context.Context, tenantID string, u Update) error {
	if (u.Token == nil) != (u.EncodingAESKey == nil) {
		return errors.New("token and aes key must be updated together")
	}
	sets := []string{"updated_at = :u"}
	values := map[string]types.AttributeValue{
		":u": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	}
	names := map[string]string{}
	if u.Secret != nil {
		sets = append(sets, "#sec = :s")
		values[":s"] = &types.AttributeValueMemberS{Value: *u.Secret}
		names["#sec"] = "secret"
	}
	if u.AgentID != nil {
		sets = append(sets, "agent_id = :a")
		values[":a"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*u.AgentID, 10)}
	}
	if u.Token != nil {
		sets = append(sets, "#t = :t", "aes_key = :k")
		values[":t"] = &types.AttributeValueMemberS{Value: *u.Token}
		values[":k"] = &types.AttributeValueMemberS{Value: *u.EncodingAESKey}
		names["#t"] = "token"
	}

	in := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       tenantKey(tenantID),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(tenant_id)"),
	}
	// secret and token are DynamoDB reserved words
	if len(names) > 0 {
		in.ExpressionAttributeNames = names
	}
	if _, err := c.db.UpdateItem(ctx, in); err != nil {
		return conditionErr("dynamodb UpdateItem", err, ErrNotFound)
	}
	return nil
}

func (c *DynamoClient) UpdateSecret(ctx context.Context, tenantID, secret string) error {
	return c.UpdateTenant(ctx, tenantID, Update{Secret: &secret})
}

// UpdateCallback replaces the callback token and EncodingAESKey together so
// a half-rotated pair is never observable.
func (c *DynamoClient) UpdateCallback(ctx context.Context, tenantID, token, aesKey string) error {
	return c.UpdateTenant(ctx, tenantID, Update{Token: &token, EncodingAESKey: &aesKey})
}

func (c *DynamoClient) UpdateAgentID(ctx context.Context, tenantID string, agentID int64) error {
	return c.UpdateTenant(ctx, tenantID, Update{AgentID: &agentID})
}

func (c *DynamoClient) ListAll(ctx context.Context) ([]*Credentials, error) {
	var (
		records []*Credentials
		start   map[string]types.AttributeValue
	)
	for {
		out, err := c.db.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(c.tableName),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb Scan: %w", err)
		}
		for _, item := range out.Items {
			var creds Credentials
			if err := attributevalue.UnmarshalMap(item, &creds); err != nil {
				continue
			}
			records = append(records, &creds)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return records, nil
		}
		start = out.LastEvaluatedKey
	}
}

func (c *DynamoClient) DeleteTenant(ctx context.Context, tenantID string) error {
	_, err := c.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 tenantKey(tenantID),
		ConditionExpression: aws.String("attribute_exists(tenant_id)"),
	})
	if err != nil {
		return conditionErr("dynamodb DeleteItem", err, ErrNotFound)
	}
	return nil
}

func conditionErr(op string, err, sentinel error) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return sentinel
	}
	return fmt.Errorf("%s: %w", op, err)
}
