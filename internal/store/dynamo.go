package store

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dspace-submission-composer/internal/submission"
)

// DynamoClient is the subset of the DynamoDB API used by DynamoStore. Both
// *dynamodb.Client and test doubles satisfy it.
type DynamoClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// DynamoStore implements Store on a DynamoDB table with batch_id as the
// partition key and item_identifier as the sort key.
type DynamoStore struct {
	client DynamoClient
	table  string
}

// NewDynamo creates a DynamoStore for the named table.
func NewDynamo(client DynamoClient, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func itemKey(batchID, itemIdentifier string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"batch_id":        &types.AttributeValueMemberS{Value: batchID},
		"item_identifier": &types.AttributeValueMemberS{Value: itemIdentifier},
	}
}

// Migrate creates the table when it does not exist and waits until it is active.
func (s *DynamoStore) Migrate(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return eris.Wrapf(err, "dynamo: describe table %s", s.table)
	}

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(s.table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("batch_id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("item_identifier"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("batch_id"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("item_identifier"), KeyType: types.KeyTypeRange},
		},
	})
	if err != nil {
		return eris.Wrapf(err, "dynamo: create table %s", s.table)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	err = waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}, 2*time.Minute)
	return eris.Wrapf(err, "dynamo: wait for table %s", s.table)
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *DynamoStore) Close() error { return nil }

func (s *DynamoStore) Create(ctx context.Context, item *submission.Item) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return eris.Wrap(err, "dynamo: marshal item")
	}

	cond := expression.AttributeNotExists(expression.Name("batch_id")).
		And(expression.AttributeNotExists(expression.Name("item_identifier")))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return eris.Wrap(err, "dynamo: build create condition")
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     av,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return &AlreadyExistsError{BatchID: item.BatchID, ItemIdentifier: item.ItemIdentifier}
		}
		return eris.Wrapf(err, "dynamo: put %s/%s", item.BatchID, item.ItemIdentifier)
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, batchID, itemIdentifier string) (*submission.Item, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(batchID, itemIdentifier),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dynamo: get %s/%s", batchID, itemIdentifier)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var item submission.Item
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, eris.Wrapf(err, "dynamo: unmarshal %s/%s", batchID, itemIdentifier)
	}
	return &item, nil
}

func (s *DynamoStore) QueryBatch(ctx context.Context, batchID string) ([]*submission.Item, error) {
	keyCond := expression.Key("batch_id").Equal(expression.Value(batchID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, eris.Wrap(err, "dynamo: build query")
	}

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	})

	var items []*submission.Item
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, eris.Wrapf(err, "dynamo: query batch %s", batchID)
		}
		var batch []*submission.Item
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, eris.Wrapf(err, "dynamo: unmarshal batch %s", batchID)
		}
		items = append(items, batch...)
	}
	return items, nil
}

// Upsert sets every mutable attribute, removing the ones that are empty.
// workflow_name is only written when the record does not have one yet.
func (s *DynamoStore) Upsert(ctx context.Context, item *submission.Item) error {
	update := expression.Set(
		expression.Name("workflow_name"),
		expression.IfNotExists(expression.Name("workflow_name"), expression.Value(item.WorkflowName)),
	)
	for _, f := range mutableAttributes(item) {
		if f.empty {
			update = update.Remove(expression.Name(f.name))
			continue
		}
		update = update.Set(expression.Name(f.name), expression.Value(f.value))
	}

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return eris.Wrap(err, "dynamo: build update")
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       itemKey(item.BatchID, item.ItemIdentifier),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return eris.Wrapf(err, "dynamo: update %s/%s", item.BatchID, item.ItemIdentifier)
}

type attribute struct {
	name  string
	value any
	empty bool
}

func mutableAttributes(it *submission.Item) []attribute {
	return []attribute{
		{"status", string(it.Status), it.Status == submission.StatusUnset},
		{"status_details", it.StatusDetails, it.StatusDetails == ""},
		{"source_system_identifier", it.SourceSystemIdentifier, it.SourceSystemIdentifier == ""},
		{"dspace_handle", it.DSpaceHandle, it.DSpaceHandle == ""},
		{"ingest_date", it.IngestDate, it.IngestDate == nil},
		{"last_submission_message", it.LastSubmissionMessage, it.LastSubmissionMessage == ""},
		{"last_result_message", it.LastResultMessage, it.LastResultMessage == ""},
		{"last_run_date", it.LastRunDate, it.LastRunDate == nil},
		{"submit_attempts", it.SubmitAttempts, false},
		{"ingest_attempts", it.IngestAttempts, false},
	}
}
