package record

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catdevman/image-transform/internal/model"
)

// --- Mocks ---

type MockDynamo struct {
	Items    []map[string]types.AttributeValue
	Queries  []*dynamodb.QueryInput
	QueryErr error
	PutCalls  int
	TxCalls   int
	ScanCalls int
}

func (m *MockDynamo) has(recordID string) bool {
	for _, it := range m.Items {
		if s, ok := it["recordId"].(*types.AttributeValueMemberS); ok && s.Value == recordID {
			return true
		}
	}
	return false
}

func recordIDOf(item map[string]types.AttributeValue) string {
	return item["recordId"].(*types.AttributeValueMemberS).Value
}

func (m *MockDynamo) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.PutCalls++
	if m.has(recordIDOf(params.Item)) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	m.Items = append(m.Items, params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (m *MockDynamo) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.Queries = append(m.Queries, params)
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	want := params.ExpressionAttributeValues[":k"].(*types.AttributeValueMemberS).Value
	var out []map[string]types.AttributeValue
	for _, it := range m.Items {
		if s, ok := it["key"].(*types.AttributeValueMemberS); ok && s.Value == want {
			out = append(out, it)
			break
		}
	}
	return &dynamodb.QueryOutput{Items: out}, nil
}

// Scan evaluates Limit before the key filter, as DynamoDB does, and pages
// with a positional cursor.
func (m *MockDynamo) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.ScanCalls++
	start := 0
	if c, ok := params.ExclusiveStartKey["cursor"].(*types.AttributeValueMemberN); ok {
		start, _ = strconv.Atoi(c.Value)
	}
	end := len(m.Items)
	if params.Limit != nil && start+int(*params.Limit) < end {
		end = start + int(*params.Limit)
	}

	var out []map[string]types.AttributeValue
	for _, it := range m.Items[start:end] {
		if _, ok := it["key"]; ok {
			out = append(out, it)
		}
	}
	resp := &dynamodb.ScanOutput{Items: out}
	if end < len(m.Items) {
		resp.LastEvaluatedKey = map[string]types.AttributeValue{
			"cursor": &types.AttributeValueMemberN{Value: strconv.Itoa(end)},
		}
	}
	return resp, nil
}

func (m *MockDynamo) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	m.TxCalls++
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, ti := range params.TransactItems {
		reasons[i].Code = aws.String("None")
		if ti.Put.ConditionExpression != nil && m.has(recordIDOf(ti.Put.Item)) {
			reasons[i].Code = aws.String("ConditionalCheckFailed")
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}
	for _, ti := range params.TransactItems {
		m.Items = append(m.Items, ti.Put.Item)
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func sampleRecord() *model.ProcessingRecord {
	rec := &model.ProcessingRecord{
		Key:            "photos/sample.jpg",
		SourceLocation: "s3://uploads/photos/sample.jpg",
		DerivedLocations: []model.Location{
			{Purpose: "thumbnail", Location: "s3://thumbs/thumbnail-sample.jpg"},
			{Purpose: "processed", Location: "s3://processed/processed-sample.jpg"},
		},
		BasicAttributes: model.BasicAttributes{Format: "jpeg", Width: 640, Height: 480, ColorSpace: "YCbCr", Channels: 3},
		ExtendedAttributes: map[string]any{
			"EXIF": map[string]any{"Make": "Canon", "ISO": 100.0},
		},
		ProcessedAt: "2024-05-01T10:00:00Z",
	}
	return rec
}

// --- Tests ---

func TestDynamoStore_InsertThenFind(t *testing.T) {
	mock := &MockDynamo{}
	store := &DynamoStore{DB: mock, TableName: "ImageProcessingLog", KeyIndex: "key-index"}
	ctx := context.Background()

	got, err := store.FindByKey(ctx, "photos/sample.jpg")
	require.NoError(t, err)
	assert.Nil(t, got)

	id, err := store.Insert(ctx, sampleRecord())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, mock.PutCalls)

	got, err = store.FindByKey(ctx, "photos/sample.jpg")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.RecordID)
	assert.Equal(t, 640, got.BasicAttributes.Width)
	assert.Equal(t, "Canon", got.ExtendedAttributes["EXIF"].(map[string]any)["Make"])
	loc, ok := got.DerivedLocation("thumbnail")
	assert.True(t, ok)
	assert.Equal(t, "s3://thumbs/thumbnail-sample.jpg", loc)

	q := mock.Queries[0]
	assert.Equal(t, "key-index", aws.ToString(q.IndexName))
	assert.Equal(t, int32(1), aws.ToInt32(q.Limit))
}

func TestDynamoStore_BestEffortAllowsDuplicates(t *testing.T) {
	mock := &MockDynamo{}
	store := &DynamoStore{DB: mock, TableName: "t", KeyIndex: "key-index"}
	ctx := context.Background()

	_, err := store.Insert(ctx, sampleRecord())
	require.NoError(t, err)
	_, err = store.Insert(ctx, sampleRecord())
	require.NoError(t, err)

	records, err := store.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestDynamoStore_StrictRejectsSecondInsert(t *testing.T) {
	mock := &MockDynamo{}
	store := &DynamoStore{DB: mock, TableName: "t", KeyIndex: "key-index", Strict: true}
	ctx := context.Background()

	_, err := store.Insert(ctx, sampleRecord())
	require.NoError(t, err)

	_, err = store.Insert(ctx, sampleRecord())
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 2, mock.TxCalls)

	records, err := store.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1, "guard items are not listed")
}

func TestDynamoStore_ListSkipsGuardPages(t *testing.T) {
	mock := &MockDynamo{}
	store := &DynamoStore{DB: mock, TableName: "t", KeyIndex: "key-index", Strict: true}
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		rec := sampleRecord()
		rec.Key = fmt.Sprintf("photos/%d.jpg", i)
		_, err := store.Insert(ctx, rec)
		require.NoError(t, err)
	}
	// Items alternate guard, record; a one-item page can hold only a guard.
	records, err := store.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "photos/0.jpg", records[0].Key)

	records, err = store.List(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	records, err = store.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestDynamoStore_QueryError(t *testing.T) {
	store := &DynamoStore{DB: &MockDynamo{QueryErr: errors.New("throttled")}, TableName: "t", KeyIndex: "k"}
	_, err := store.FindByKey(context.Background(), "a.jpg")
	assert.ErrorContains(t, err, "throttled")
}
