package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"voice-booking/internal/clock"
	"voice-booking/internal/domain"
)

var testNow = time.Date(2026, 1, 15, 17, 0, 0, 0, time.UTC)

type fakeDynamo struct {
	getOut         *dynamodb.GetItemOutput
	getErr         error
	putErr         error
	deleteErr      error
	updateErr      error
	describeOut    *dynamodb.DescribeTableOutput
	describeErr    error
	lastGetInput   *dynamodb.GetItemInput
	lastPutInput   *dynamodb.PutItemInput
	lastDeleteIn   *dynamodb.DeleteItemInput
	lastUpdateIn   *dynamodb.UpdateItemInput
	lastDescribeIn *dynamodb.DescribeTableInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.lastDeleteIn = in
	return &dynamodb.DeleteItemOutput{}, f.deleteErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdateIn = in
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamo) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.lastDescribeIn = in
	return f.describeOut, f.describeErr
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table", clock.NewFake(testNow))
	require.NoError(t, err)
	return c
}

func numberValue(t *testing.T, av types.AttributeValue) int64 {
	t.Helper()
	n, ok := av.(*types.AttributeValueMemberN)
	require.True(t, ok)
	v, err := strconv.ParseInt(n.Value, 10, 64)
	require.NoError(t, err)
	return v
}

func stringValue(t *testing.T, av types.AttributeValue) string {
	t.Helper()
	s, ok := av.(*types.AttributeValueMemberS)
	require.True(t, ok)
	return s.Value
}

func sampleCall() domain.CallContext {
	return domain.CallContext{
		CallID:       "call-1",
		State:        domain.StateBooking,
		Context:      map[string]any{"patient_name": "Ana"},
		CreatedAt:    testNow.Add(-time.Minute),
		LastActivity: testNow,
		Version:      2,
	}
}

func sampleHold() domain.SlotHold {
	return domain.SlotHold{
		SlotID:     "agent@example.com_20260115_1500",
		HoldID:     "hold-1",
		CallID:     "call-1",
		Contact:    "ana@example.com",
		AcquiredAt: testNow,
		ExpiresAt:  testNow.Add(60 * time.Second),
	}
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}

func TestConnect_ActiveTable(t *testing.T) {
	db := &fakeDynamo{describeOut: &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableStatus: types.TableStatusActive}}}
	c := mustNewClient(t, db)
	require.NoError(t, c.Connect(context.Background()))
	require.Equal(t, "test-table", *db.lastDescribeIn.TableName)
	require.NoError(t, c.Close())
}

func TestConnect_TableNotActive(t *testing.T) {
	db := &fakeDynamo{describeOut: &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableStatus: types.TableStatusCreating}}}
	c := mustNewClient(t, db)
	err := c.Connect(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "CREATING")
}

func TestConnect_DescribeError(t *testing.T) {
	db := &fakeDynamo{describeErr: errors.New("ResourceNotFoundException")}
	c := mustNewClient(t, db)
	err := c.Connect(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "Connect")
}

func TestCreateCall_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	ok, err := c.CreateCall(context.Background(), sampleCall(), time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	in := db.lastPutInput
	require.Equal(t, "attribute_not_exists(PK) OR #expiresAt <= :now", *in.ConditionExpression)
	require.Equal(t, "CALL#call-1", stringValue(t, in.Item["PK"]))
	require.Equal(t, skCallState, stringValue(t, in.Item["SK"]))
	require.Equal(t, `{"patient_name":"Ana"}`, stringValue(t, in.Item["context"]))
	require.Equal(t, testNow.Add(time.Hour).UnixMilli(), numberValue(t, in.Item["expiresAt"]))
	require.Equal(t, testNow.Add(time.Hour).Unix(), numberValue(t, in.Item["ttl"]))
	require.Equal(t, testNow.UnixMilli(), numberValue(t, in.ExpressionAttributeValues[":now"]))
}

func TestCreateCall_AlreadyExists(t *testing.T) {
	db := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{}}
	c := mustNewClient(t, db)
	ok, err := c.CreateCall(context.Background(), sampleCall(), time.Hour)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCreateCall_DynamoError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")}
	c := mustNewClient(t, db)
	_, err := c.CreateCall(context.Background(), sampleCall(), time.Hour)
	require.Error(t, err)
	require.Contains(t, err.Error(), "CreateCall")
}

func TestGetCall_RoundTrip(t *testing.T) {
	item, err := callItem(sampleCall(), testNow.Add(time.Hour))
	require.NoError(t, err)
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)

	call, ok, err := c.GetCall(context.Background(), "call-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.StateBooking, call.State)
	require.Equal(t, "Ana", call.Context["patient_name"])
	require.Equal(t, int64(2), call.Version)
	require.True(t, call.LastActivity.Equal(testNow))
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestGetCall_Missing(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)
	_, ok, err := c.GetCall(context.Background(), "call-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetCall_ExpiredButNotSwept(t *testing.T) {
	item, err := callItem(sampleCall(), testNow.Add(-time.Second))
	require.NoError(t, err)
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)
	_, ok, err := c.GetCall(context.Background(), "call-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetCall_MalformedState(t *testing.T) {
	item, err := callItem(sampleCall(), testNow.Add(time.Hour))
	require.NoError(t, err)
	item["state"] = &types.AttributeValueMemberS{Value: "LIMBO"}
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)
	_, _, err = c.GetCall(context.Background(), "call-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown stored state")
}

func TestGetCall_GetItemError(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("boom")}
	c := mustNewClient(t, db)
	_, _, err := c.GetCall(context.Background(), "call-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetCall")
}

func TestReplaceCall_ConditionOnVersion(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	ok, err := c.ReplaceCall(context.Background(), sampleCall(), 1, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "#version = :prev AND #expiresAt > :now", *db.lastPutInput.ConditionExpression)
	require.Equal(t, int64(1), numberValue(t, db.lastPutInput.ExpressionAttributeValues[":prev"]))
	require.Equal(t, "version", db.lastPutInput.ExpressionAttributeNames["#version"])
}

func TestReplaceCall_VersionConflict(t *testing.T) {
	db := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{}}
	c := mustNewClient(t, db)
	ok, err := c.ReplaceCall(context.Background(), sampleCall(), 1, time.Hour)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteCall(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.DeleteCall(context.Background(), "call-1"))
	require.Equal(t, "CALL#call-1", stringValue(t, db.lastDeleteIn.Key["PK"]))

	db.deleteErr = errors.New("boom")
	err := c.DeleteCall(context.Background(), "call-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "DeleteCall")
}

func TestCreateHold_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	ok, err := c.CreateHold(context.Background(), sampleHold())
	require.NoError(t, err)
	require.True(t, ok)

	in := db.lastPutInput
	require.Equal(t, "attribute_not_exists(PK) OR #expiresAt <= :now", *in.ConditionExpression)
	require.Equal(t, "SLOT#agent@example.com_20260115_1500", stringValue(t, in.Item["PK"]))
	require.Equal(t, "hold-1", stringValue(t, in.Item["holdId"]))
	require.Equal(t, testNow.Add(time.Minute).UnixMilli(), numberValue(t, in.Item["expiresAt"]))
}

func TestCreateHold_SlotTaken(t *testing.T) {
	db := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{}}
	c := mustNewClient(t, db)
	ok, err := c.CreateHold(context.Background(), sampleHold())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCreateHold_DynamoError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("throttled")}
	c := mustNewClient(t, db)
	_, err := c.CreateHold(context.Background(), sampleHold())
	require.Error(t, err)
	require.Contains(t, err.Error(), "CreateHold")
}

func TestGetHold_LiveAndExpired(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: holdItem(sampleHold())}}
	c := mustNewClient(t, db)
	hold, ok, err := c.GetHold(context.Background(), sampleHold().SlotID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "call-1", hold.CallID)

	expired := sampleHold()
	expired.ExpiresAt = testNow
	db.getOut = &dynamodb.GetItemOutput{Item: holdItem(expired)}
	_, ok, err = c.GetHold(context.Background(), expired.SlotID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteHold_ConditionOnHoldID(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	ok, err := c.DeleteHold(context.Background(), "slot", "hold-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "#holdId = :hid AND #expiresAt > :now", *db.lastDeleteIn.ConditionExpression)
	require.Equal(t, "hold-1", stringValue(t, db.lastDeleteIn.ExpressionAttributeValues[":hid"]))
}

func TestDeleteHold_Mismatch(t *testing.T) {
	db := &fakeDynamo{deleteErr: &types.ConditionalCheckFailedException{}}
	c := mustNewClient(t, db)
	ok, err := c.DeleteHold(context.Background(), "slot", "other")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExtendHold_SetsExpiryAndTTL(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	exp := testNow.Add(90*time.Second + 500*time.Millisecond)
	ok, err := c.ExtendHold(context.Background(), "slot", "hold-1", exp)
	require.NoError(t, err)
	require.True(t, ok)

	in := db.lastUpdateIn
	require.Equal(t, "SET #expiresAt = :exp, #ttl = :ttl", *in.UpdateExpression)
	require.Equal(t, "ttl", in.ExpressionAttributeNames["#ttl"])
	require.Equal(t, exp.UnixMilli(), numberValue(t, in.ExpressionAttributeValues[":exp"]))
	require.Equal(t, exp.Unix()+1, numberValue(t, in.ExpressionAttributeValues[":ttl"]))
}

func TestExtendHold_Errors(t *testing.T) {
	db := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{}}
	c := mustNewClient(t, db)
	ok, err := c.ExtendHold(context.Background(), "slot", "hold-1", testNow.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, ok)

	db.updateErr = errors.New("boom")
	_, err = c.ExtendHold(context.Background(), "slot", "hold-1", testNow.Add(time.Minute))
	require.Error(t, err)
	require.Contains(t, err.Error(), "ExtendHold")
}

func TestPKs(t *testing.T) {
	require.Equal(t, "CALL#my-call", callPK("my-call"))
	require.Equal(t, "SLOT#my-slot", slotPK("my-slot"))
}
