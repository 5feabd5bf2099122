// Package record persists ProcessingRecords. Uniqueness per key is best-effort
// unless a store is built in strict mode, where a second insert for the same
// key fails with ErrConflict.
package record

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/catdevman/image-transform/internal/model"
)

var ErrConflict = errors.New("record already exists for key")

type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore keeps one item per record, partitioned by recordId, with a
// global secondary index on key for the existence query. In strict mode each
// insert also writes a guard item whose recordId is derived from the key.
type DynamoStore struct {
	DB        DynamoDBAPI
	TableName string
	KeyIndex  string
	Strict    bool
}

const guardPrefix = "key#"

func (s *DynamoStore) FindByKey(ctx context.Context, key string) (*model.ProcessingRecord, error) {
	out, err := s.DB.Query(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(s.TableName),
		IndexName:                aws.String(s.KeyIndex),
		KeyConditionExpression:   aws.String("#k = :k"),
		ExpressionAttributeNames: map[string]string{"#k": "key"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":k": &types.AttributeValueMemberS{Value: key},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query %s by key: %w", s.TableName, err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}

	var rec model.ProcessingRecord
	if err := attributevalue.UnmarshalMap(out.Items[0], &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

// Insert writes rec, assigning a RecordID when it has none, and returns the ID.
func (s *DynamoStore) Insert(ctx context.Context, rec *model.ProcessingRecord) (string, error) {
	if rec.RecordID == "" {
		rec.RecordID = uuid.NewString()
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}

	if !s.Strict {
		_, err = s.DB.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.TableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(recordId)"),
		})
		if err != nil {
			return "", fmt.Errorf("put record: %w", err)
		}
		return rec.RecordID, nil
	}

	_, err = s.DB.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName: aws.String(s.TableName),
				Item: map[string]types.AttributeValue{
					"recordId": &types.AttributeValueMemberS{Value: guardPrefix + rec.Key},
					"guardFor": &types.AttributeValueMemberS{Value: rec.RecordID},
				},
				ConditionExpression: aws.String("attribute_not_exists(recordId)"),
			}},
			{Put: &types.Put{
				TableName: aws.String(s.TableName),
				Item:      item,
			}},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			for _, r := range canceled.CancellationReasons {
				if aws.ToString(r.Code) == "ConditionalCheckFailed" {
					return "", fmt.Errorf("%w: %s", ErrConflict, rec.Key)
				}
			}
		}
		return "", fmt.Errorf("transact put record: %w", err)
	}
	return rec.RecordID, nil
}

// List returns up to limit records, skipping strict-mode guard items. Scan
// applies Limit before the filter, so pages are read until enough records
// have matched or the table is exhausted.
func (s *DynamoStore) List(ctx context.Context, limit int32) ([]model.ProcessingRecord, error) {
	p := dynamodb.NewScanPaginator(s.DB, &dynamodb.ScanInput{
		TableName:                aws.String(s.TableName),
		FilterExpression:         aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": "key"},
		Limit:                    aws.Int32(limit),
	})

	var items []map[string]types.AttributeValue
	for p.HasMorePages() && int32(len(items)) < limit {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.TableName, err)
		}
		items = append(items, out.Items...)
	}
	if int32(len(items)) > limit {
		items = items[:limit]
	}

	var records []model.ProcessingRecord
	if err := attributevalue.UnmarshalListOfMaps(items, &records); err != nil {
		return nil, fmt.Errorf("unmarshal records: %w", err)
	}
	return records, nil
}
