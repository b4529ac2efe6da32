package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"voice-booking/internal/clock"
	"voice-booking/internal/domain"
)

const (
	pkPrefixCall = "CALL#"
	pkPrefixSlot = "SLOT#"
	skCallState  = "STATE"
	skSlotHold   = "HOLD"
)

// Items carry both expiresAt (unix millis, checked inside condition
// expressions) and ttl (unix seconds, read by DynamoDB's lazy TTL sweeper).
// The table's TTL attribute must be configured as "ttl".
var expressionNames = map[string]string{
	"#expiresAt": "expiresAt",
	"#ttl":       "ttl",
	"#holdId":    "holdId",
	"#version":   "version",
}

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Client stores call state and slot holds in one DynamoDB table so every
// worker and Lambda instance shares them.
type Client struct {
	api       dynamodbAPI
	tableName string
	clock     clock.Clock
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, clk clock.Clock) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Client{api: api, tableName: tableName, clock: clk}, nil
}

// Connect checks that the table exists and is active.
func (c *Client) Connect(ctx context.Context) error {
	out, err := c.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.tableName)})
	if err != nil {
		return fmt.Errorf("repository: Connect describe table: %w", err)
	}
	if out == nil || out.Table == nil {
		return fmt.Errorf("repository: Connect: table %q not described", c.tableName)
	}
	if out.Table.TableStatus != types.TableStatusActive {
		return fmt.Errorf("repository: Connect: table %q is %s", c.tableName, out.Table.TableStatus)
	}
	return nil
}

// Close is a no-op; the SDK client has no connection state to release.
func (c *Client) Close() error {
	return nil
}

func callPK(callID string) string {
	return pkPrefixCall + callID
}

func slotPK(slotID string) string {
	return pkPrefixSlot + slotID
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (c *Client) nowValue() types.AttributeValue {
	return numberAttr(c.clock.Now().UnixMilli())
}

// CreateCall writes the call only if no live record exists.
func (c *Client) CreateCall(ctx context.Context, call domain.CallContext, ttl time.Duration) (bool, error) {
	item, err := callItem(call, c.clock.Now().Add(ttl))
	if err != nil {
		return false, fmt.Errorf("repository: CreateCall: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(c.tableName),
		Item:                      item,
		ConditionExpression:       aws.String("attribute_not_exists(PK) OR #expiresAt <= :now"),
		ExpressionAttributeNames:  pick(expressionNames, "#expiresAt"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":now": c.nowValue()},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository: CreateCall: %w", err)
	}
	return true, nil
}

// GetCall reads the call, hiding records past their expiry that DynamoDB has not swept yet.
func (c *Client) GetCall(ctx context.Context, callID string) (domain.CallContext, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(callPK(callID), skCallState),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.CallContext{}, false, fmt.Errorf("repository: GetCall get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.CallContext{}, false, nil
	}

	expiresAt, err := int64Attr(out.Item, "expiresAt")
	if err != nil {
		return domain.CallContext{}, false, fmt.Errorf("repository: GetCall decode expiry: %w", err)
	}
	if expiresAt <= c.clock.Now().UnixMilli() {
		return domain.CallContext{}, false, nil
	}

	call, err := itemToCall(out.Item)
	if err != nil {
		return domain.CallContext{}, false, fmt.Errorf("repository: GetCall unmarshal: %w", err)
	}
	return call, true, nil
}

// ReplaceCall overwrites the call only if the stored version is prevVersion.
func (c *Client) ReplaceCall(ctx context.Context, call domain.CallContext, prevVersion int64, ttl time.Duration) (bool, error) {
	item, err := callItem(call, c.clock.Now().Add(ttl))
	if err != nil {
		return false, fmt.Errorf("repository: ReplaceCall: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(c.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("#version = :prev AND #expiresAt > :now"),
		ExpressionAttributeNames: pick(expressionNames, "#version", "#expiresAt"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prev": numberAttr(prevVersion),
			":now":  c.nowValue(),
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository: ReplaceCall: %w", err)
	}
	return true, nil
}

func (c *Client) DeleteCall(ctx context.Context, callID string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(callPK(callID), skCallState),
	})
	if err != nil {
		return fmt.Errorf("repository: DeleteCall: %w", err)
	}
	return nil
}

// CreateHold is the single atomic acquire: the put succeeds only when no hold
// exists or the existing one has expired.
func (c *Client) CreateHold(ctx context.Context, hold domain.SlotHold) (bool, error) {
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(c.tableName),
		Item:                      holdItem(hold),
		ConditionExpression:       aws.String("attribute_not_exists(PK) OR #expiresAt <= :now"),
		ExpressionAttributeNames:  pick(expressionNames, "#expiresAt"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":now": c.nowValue()},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository: CreateHold: %w", err)
	}
	return true, nil
}

func (c *Client) GetHold(ctx context.Context, slotID string) (domain.SlotHold, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(slotPK(slotID), skSlotHold),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.SlotHold{}, false, fmt.Errorf("repository: GetHold get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.SlotHold{}, false, nil
	}
	hold, err := itemToHold(out.Item)
	if err != nil {
		return domain.SlotHold{}, false, fmt.Errorf("repository: GetHold unmarshal: %w", err)
	}
	if !hold.Live(c.clock.Now()) {
		return domain.SlotHold{}, false, nil
	}
	return hold, true, nil
}

// DeleteHold removes the hold only when holdID matches a live record.
func (c *Client) DeleteHold(ctx context.Context, slotID, holdID string) (bool, error) {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(c.tableName),
		Key:                      key(slotPK(slotID), skSlotHold),
		ConditionExpression:      aws.String("#holdId = :hid AND #expiresAt > :now"),
		ExpressionAttributeNames: pick(expressionNames, "#holdId", "#expiresAt"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":hid": &types.AttributeValueMemberS{Value: holdID},
			":now": c.nowValue(),
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository: DeleteHold: %w", err)
	}
	return true, nil
}

// ExtendHold moves the expiry of a live, matching hold.
func (c *Client) ExtendHold(ctx context.Context, slotID, holdID string, expiresAt time.Time) (bool, error) {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(c.tableName),
		Key:                      key(slotPK(slotID), skSlotHold),
		UpdateExpression:         aws.String("SET #expiresAt = :exp, #ttl = :ttl"),
		ConditionExpression:      aws.String("#holdId = :hid AND #expiresAt > :now"),
		ExpressionAttributeNames: pick(expressionNames, "#holdId", "#expiresAt", "#ttl"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":exp": numberAttr(expiresAt.UnixMilli()),
			":ttl": numberAttr(ttlSeconds(expiresAt)),
			":hid": &types.AttributeValueMemberS{Value: holdID},
			":now": c.nowValue(),
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository: ExtendHold: %w", err)
	}
	return true, nil
}

func callItem(call domain.CallContext, expiresAt time.Time) (map[string]types.AttributeValue, error) {
	payload := call.Context
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: callPK(call.CallID)},
		"SK":           &types.AttributeValueMemberS{Value: skCallState},
		"callId":       &types.AttributeValueMemberS{Value: call.CallID},
		"state":        &types.AttributeValueMemberS{Value: string(call.State)},
		"context":      &types.AttributeValueMemberS{Value: string(raw)},
		"createdAt":    &types.AttributeValueMemberS{Value: call.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"lastActivity": &types.AttributeValueMemberS{Value: call.LastActivity.UTC().Format(time.RFC3339Nano)},
		"version":      numberAttr(call.Version),
		"expiresAt":    numberAttr(expiresAt.UnixMilli()),
		"ttl":          numberAttr(ttlSeconds(expiresAt)),
	}, nil
}

func itemToCall(item map[string]types.AttributeValue) (domain.CallContext, error) {
	callID, err := strAttr(item, "callId")
	if err != nil {
		return domain.CallContext{}, err
	}
	state, err := strAttr(item, "state")
	if err != nil {
		return domain.CallContext{}, err
	}
	if !domain.CallState(state).Valid() {
		return domain.CallContext{}, fmt.Errorf("repository: unknown stored state %q", state)
	}
	rawContext, err := strAttr(item, "context")
	if err != nil {
		return domain.CallContext{}, err
	}
	values := map[string]any{}
	if err := json.Unmarshal([]byte(rawContext), &values); err != nil {
		return domain.CallContext{}, fmt.Errorf("repository: decode context: %w", err)
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.CallContext{}, err
	}
	lastActivity, err := timeAttr(item, "lastActivity")
	if err != nil {
		return domain.CallContext{}, err
	}
	version, err := int64Attr(item, "version")
	if err != nil {
		return domain.CallContext{}, err
	}

	return domain.CallContext{
		CallID:       callID,
		State:        domain.CallState(state),
		Context:      values,
		CreatedAt:    createdAt,
		LastActivity: lastActivity,
		Version:      version,
	}, nil
}

func holdItem(hold domain.SlotHold) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: slotPK(hold.SlotID)},
		"SK":         &types.AttributeValueMemberS{Value: skSlotHold},
		"slotId":     &types.AttributeValueMemberS{Value: hold.SlotID},
		"holdId":     &types.AttributeValueMemberS{Value: hold.HoldID},
		"callId":     &types.AttributeValueMemberS{Value: hold.CallID},
		"contact":    &types.AttributeValueMemberS{Value: hold.Contact},
		"acquiredAt": numberAttr(hold.AcquiredAt.UnixMilli()),
		"expiresAt":  numberAttr(hold.ExpiresAt.UnixMilli()),
		"ttl":        numberAttr(ttlSeconds(hold.ExpiresAt)),
	}
}

func itemToHold(item map[string]types.AttributeValue) (domain.SlotHold, error) {
	slotID, err := strAttr(item, "slotId")
	if err != nil {
		return domain.SlotHold{}, err
	}
	holdID, err := strAttr(item, "holdId")
	if err != nil {
		return domain.SlotHold{}, err
	}
	callID, _ := strAttr(item, "callId")   // informational
	contact, _ := strAttr(item, "contact") // informational
	acquiredAt, _ := int64Attr(item, "acquiredAt")
	expiresAt, err := int64Attr(item, "expiresAt")
	if err != nil {
		return domain.SlotHold{}, err
	}
	return domain.SlotHold{
		SlotID:     slotID,
		HoldID:     holdID,
		CallID:     callID,
		Contact:    contact,
		AcquiredAt: time.UnixMilli(acquiredAt).UTC(),
		ExpiresAt:  time.UnixMilli(expiresAt).UTC(),
	}, nil
}

// ttlSeconds rounds up so DynamoDB never sweeps a record before it expires.
func ttlSeconds(t time.Time) int64 {
	secs := t.Unix()
	if t.Nanosecond() > 0 {
		secs++
	}
	return secs
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func pick(names map[string]string, keys ...string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = names[k]
	}
	return out
}

func numberAttr(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}
