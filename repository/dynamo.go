package repository

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"drug-analytics/apperrors"
	"drug-analytics/models"
	"drug-analytics/pagination"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TimestampIndex ist der GSI über alle Records, sortiert nach Upload-Zeitpunkt.
const TimestampIndex = "upload-timestamp-index"

const (
	allPartition = "ALL"
	// Feste Breite, damit die lexikographische Ordnung der chronologischen entspricht.
	sortableTimestamp = "2006-01-02T15:04:05.000000000Z"
)

// DynamoAPI ist der Ausschnitt des DynamoDB-Clients, den die Stores benötigen.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// NewDynamoClient erstellt einen DynamoDB-Client; endpoint überschreibt die AWS-Adresse (LocalStack).
func NewDynamoClient(awsCfg aws.Config, endpoint string) *dynamodb.Client {
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

type statusItem struct {
	UploadID      string  `dynamodbav:"upload_id"`
	Status        string  `dynamodbav:"status"`
	Filename      string  `dynamodbav:"filename"`
	S3Key         string  `dynamodbav:"s3_key"`
	CreatedAt     string  `dynamodbav:"created_at"`
	UpdatedAt     string  `dynamodbav:"updated_at"`
	TotalRows     int     `dynamodbav:"total_rows"`
	ProcessedRows int     `dynamodbav:"processed_rows"`
	ErrorMessage  *string `dynamodbav:"error_message,omitempty"`
}

func toStatusItem(s models.UploadStatus) statusItem {
	return statusItem{
		UploadID:      s.UploadID,
		Status:        string(s.Status),
		Filename:      s.Filename,
		S3Key:         s.BlobKey,
		CreatedAt:     s.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:     s.UpdatedAt.UTC().Format(time.RFC3339Nano),
		TotalRows:     s.TotalRows,
		ProcessedRows: s.ProcessedRows,
		ErrorMessage:  s.ErrorMessage,
	}
}

func (it statusItem) toModel() (models.UploadStatus, error) {
	created, err := time.Parse(time.RFC3339Nano, it.CreatedAt)
	if err != nil {
		return models.UploadStatus{}, fmt.Errorf("upload %s: created_at: %w", it.UploadID, err)
	}
	updated, err := time.Parse(time.RFC3339Nano, it.UpdatedAt)
	if err != nil {
		return models.UploadStatus{}, fmt.Errorf("upload %s: updated_at: %w", it.UploadID, err)
	}
	return models.UploadStatus{
		UploadID:      it.UploadID,
		Status:        models.UploadState(it.Status),
		Filename:      it.Filename,
		BlobKey:       it.S3Key,
		CreatedAt:     created,
		UpdatedAt:     updated,
		TotalRows:     it.TotalRows,
		ProcessedRows: it.ProcessedRows,
		ErrorMessage:  it.ErrorMessage,
	}, nil
}

func decodeStatus(av map[string]types.AttributeValue) (*models.UploadStatus, error) {
	var it statusItem
	if err := attributevalue.UnmarshalMap(av, &it); err != nil {
		return nil, fmt.Errorf("decode upload status: %w", err)
	}
	s, err := it.toModel()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DynamoStatusStore speichert Upload-Status in einer Tabelle mit Partition Key upload_id.
type DynamoStatusStore struct {
	client DynamoAPI
	table  string
}

// NewDynamoStatusStore erstellt einen UploadStatusStore auf table.
func NewDynamoStatusStore(client DynamoAPI, table string) *DynamoStatusStore {
	return &DynamoStatusStore{client: client, table: table}
}

func (d *DynamoStatusStore) CreateStatus(ctx context.Context, s models.UploadStatus) error {
	av, err := attributevalue.MarshalMap(toStatusItem(s))
	if err != nil {
		return fmt.Errorf("encode upload status: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(upload_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("upload %s: %w", s.UploadID, apperrors.ErrConflict)
		}
		return fmt.Errorf("put upload status %s: %w", s.UploadID, err)
	}
	return nil
}

func (d *DynamoStatusStore) GetStatus(ctx context.Context, uploadID string) (*models.UploadStatus, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            statusKey(uploadID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get upload status %s: %w", uploadID, err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("upload %s: %w", uploadID, apperrors.ErrNotFound)
	}
	return decodeStatus(out.Item)
}

func (d *DynamoStatusStore) UpdateStatus(ctx context.Context, uploadID string, u models.StatusUpdate) (*models.UploadStatus, error) {
	set := []string{"#status = :next", "updated_at = :at"}
	values := map[string]types.AttributeValue{
		":next":     &types.AttributeValueMemberS{Value: string(u.Next)},
		":expected": &types.AttributeValueMemberS{Value: string(u.Expected)},
		":at":       &types.AttributeValueMemberS{Value: u.At.UTC().Format(time.RFC3339Nano)},
	}
	if u.Fields.TotalRows != nil {
		set = append(set, "total_rows = :total")
		values[":total"] = &types.AttributeValueMemberN{Value: fmt.Sprint(*u.Fields.TotalRows)}
	}
	if u.Fields.ProcessedRows != nil {
		set = append(set, "processed_rows = :processed")
		values[":processed"] = &types.AttributeValueMemberN{Value: fmt.Sprint(*u.Fields.ProcessedRows)}
	}
	expr := "SET " + strings.Join(set, ", ")
	if u.Next == models.StateFailed && u.Fields.ErrorMessage != nil {
		expr += ", error_message = :err"
		values[":err"] = &types.AttributeValueMemberS{Value: *u.Fields.ErrorMessage}
	} else {
		expr += " REMOVE error_message"
	}

	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(d.table),
		Key:                                 statusKey(uploadID),
		UpdateExpression:                    aws.String(expr),
		ConditionExpression:                 aws.String("attribute_exists(upload_id) AND #status = :expected"),
		ExpressionAttributeNames:            map[string]string{"#status": "status"},
		ExpressionAttributeValues:           values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return nil, fmt.Errorf("upload %s: %w", uploadID, apperrors.ErrNotFound)
			}
			return nil, fmt.Errorf("upload %s is no longer %s: %w", uploadID, u.Expected, apperrors.ErrStaleTransition)
		}
		return nil, fmt.Errorf("update upload status %s: %w", uploadID, err)
	}
	return decodeStatus(out.Attributes)
}

// ListStatuses scannt die Tabelle. Nur für den periodischen Stale-Check gedacht.
func (d *DynamoStatusStore) ListStatuses(ctx context.Context, state models.UploadState, before time.Time) ([]models.UploadStatus, error) {
	p := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName:                aws.String(d.table),
		FilterExpression:         aws.String("#status = :state AND updated_at < :before"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":state":  &types.AttributeValueMemberS{Value: string(state)},
			":before": &types.AttributeValueMemberS{Value: before.UTC().Format(time.RFC3339Nano)},
		},
	})
	var out []models.UploadStatus
	for p.HasMorePages() {
		resp, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan upload statuses: %w", err)
		}
		for _, av := range resp.Items {
			s, err := decodeStatus(av)
			if err != nil {
				return nil, err
			}
			out = append(out, *s)
		}
	}
	return out, nil
}

func statusKey(uploadID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"upload_id": &types.AttributeValueMemberS{Value: uploadID},
	}
}

type drugItem struct {
	PK              string  `dynamodbav:"PK"`
	SK              string  `dynamodbav:"SK"`
	GSI1PK          string  `dynamodbav:"GSI1PK"`
	GSI1SK          string  `dynamodbav:"GSI1SK"`
	RecordID        string  `dynamodbav:"record_id"`
	DrugName        string  `dynamodbav:"drug_name"`
	Target          string  `dynamodbav:"target"`
	Efficacy        float64 `dynamodbav:"efficacy"`
	UploadTimestamp string  `dynamodbav:"upload_timestamp"`
	SourceUploadID  string  `dynamodbav:"source_upload_id"`
	RowNumber       int     `dynamodbav:"row_number"`
}

type drugKeys struct {
	PK, SK, GSI1PK, GSI1SK string
}

// keysFor bildet die Schlüssel eines Records. Im GSI1SK steht der Name hex-kodiert: '#'
// liegt unter allen Hex-Ziffern, daher sortiert DynamoDB (byteweise) exakt wie
// (upload_timestamp, drug_name, record_id).
func keysFor(ts time.Time, drugName, recordID string) drugKeys {
	stamp := ts.UTC().Format(sortableTimestamp)
	return drugKeys{
		PK:     "DRUG#" + drugName,
		SK:     "RECORD#" + stamp + "#" + recordID,
		GSI1PK: allPartition,
		GSI1SK: stamp + "#" + hex.EncodeToString([]byte(drugName)) + "#" + recordID,
	}
}

func toDrugItem(r models.DrugRecord) drugItem {
	k := keysFor(r.UploadTimestamp, r.DrugName, r.RecordID)
	return drugItem{
		PK:              k.PK,
		SK:              k.SK,
		GSI1PK:          k.GSI1PK,
		GSI1SK:          k.GSI1SK,
		RecordID:        r.RecordID,
		DrugName:        r.DrugName,
		Target:          r.Target,
		Efficacy:        r.Efficacy,
		UploadTimestamp: r.UploadTimestamp.UTC().Format(sortableTimestamp),
		SourceUploadID:  r.SourceUploadID,
		RowNumber:       r.RowNumber,
	}
}

func (it drugItem) toModel() (models.DrugRecord, error) {
	ts, err := time.Parse(sortableTimestamp, it.UploadTimestamp)
	if err != nil {
		return models.DrugRecord{}, fmt.Errorf("record %s: upload_timestamp: %w", it.RecordID, err)
	}
	return models.DrugRecord{
		RecordID:        it.RecordID,
		DrugName:        it.DrugName,
		Target:          it.Target,
		Efficacy:        it.Efficacy,
		UploadTimestamp: ts,
		SourceUploadID:  it.SourceUploadID,
		RowNumber:       it.RowNumber,
	}, nil
}

func decodeDrugs(items []map[string]types.AttributeValue) ([]models.DrugRecord, error) {
	var decoded []drugItem
	if err := attributevalue.UnmarshalListOfMaps(items, &decoded); err != nil {
		return nil, fmt.Errorf("decode drug records: %w", err)
	}
	out := make([]models.DrugRecord, 0, len(decoded))
	for _, it := range decoded {
		r, err := it.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// cursorKey rekonstruiert den ExclusiveStartKey des GSI aus einem Cursor.
func cursorKey(c pagination.Cursor) map[string]types.AttributeValue {
	k := keysFor(c.UploadTimestamp, c.DrugName, c.RecordID)
	return map[string]types.AttributeValue{
		"PK":     &types.AttributeValueMemberS{Value: k.PK},
		"SK":     &types.AttributeValueMemberS{Value: k.SK},
		"GSI1PK": &types.AttributeValueMemberS{Value: k.GSI1PK},
		"GSI1SK": &types.AttributeValueMemberS{Value: k.GSI1SK},
	}
}

// DynamoDrugStore speichert Drug Records (PK=DRUG#{name}, SK=RECORD#{ts}#{record_id}).
type DynamoDrugStore struct {
	client DynamoAPI
	table  string
}

// NewDynamoDrugStore erstellt einen DrugStore auf table.
func NewDynamoDrugStore(client DynamoAPI, table string) *DynamoDrugStore {
	return &DynamoDrugStore{client: client, table: table}
}

// PutBatch schreibt records mit einem BatchWriteItem. Nicht verarbeitete Items werden
// nicht erneut versucht, sondern als Fehler mit der Zahl der geschriebenen Records gemeldet.
func (d *DynamoDrugStore) PutBatch(ctx context.Context, records []models.DrugRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if len(records) > MaxBatchSize {
		return 0, fmt.Errorf("batch of %d records exceeds limit of %d", len(records), MaxBatchSize)
	}
	requests := make([]types.WriteRequest, 0, len(records))
	for _, r := range records {
		av, err := attributevalue.MarshalMap(toDrugItem(r))
		if err != nil {
			return 0, fmt.Errorf("encode record %s: %w", r.RecordID, err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
	}
	out, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{d.table: requests},
	})
	if err != nil {
		return 0, fmt.Errorf("batch write %d records: %w", len(records), err)
	}
	if unprocessed := len(out.UnprocessedItems[d.table]); unprocessed > 0 {
		return len(records) - unprocessed, fmt.Errorf("batch write: %d of %d records unprocessed", unprocessed, len(records))
	}
	return len(records), nil
}

func (d *DynamoDrugStore) LatestByName(ctx context.Context, drugName string) (*models.DrugRecord, error) {
	out, err := d.client.Query(ctx, d.byNameQuery(drugName, aws.Int32(1)))
	if err != nil {
		return nil, fmt.Errorf("query drug %q: %w", drugName, err)
	}
	records, err := decodeDrugs(out.Items)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("drug %q: %w", drugName, apperrors.ErrNotFound)
	}
	return &records[0], nil
}

func (d *DynamoDrugStore) HistoryByName(ctx context.Context, drugName string) ([]models.DrugRecord, error) {
	p := dynamodb.NewQueryPaginator(d.client, d.byNameQuery(drugName, nil))
	var out []models.DrugRecord
	for p.HasMorePages() {
		resp, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query drug %q: %w", drugName, err)
		}
		records, err := decodeDrugs(resp.Items)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("drug %q: %w", drugName, apperrors.ErrNotFound)
	}
	return out, nil
}

func (d *DynamoDrugStore) byNameQuery(drugName string, limit *int32) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: "DRUG#" + drugName},
			":prefix": &types.AttributeValueMemberS{Value: "RECORD#"},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            limit,
	}
}

// List liest den GSI absteigend. Eine DynamoDB-Seite kann wegen der 1-MB-Grenze
// weniger als limit+1 Items liefern, daher wird bis zum Ende des Index nachgelesen.
func (d *DynamoDrugStore) List(ctx context.Context, limit int, after *pagination.Cursor) ([]models.DrugRecord, *pagination.Cursor, error) {
	var startKey map[string]types.AttributeValue
	if after != nil {
		startKey = cursorKey(*after)
	}
	out := make([]models.DrugRecord, 0, limit+1)
	for len(out) <= limit {
		resp, err := d.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.table),
			IndexName:              aws.String(TimestampIndex),
			KeyConditionExpression: aws.String("GSI1PK = :all"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":all": &types.AttributeValueMemberS{Value: allPartition},
			},
			ScanIndexForward:  aws.Bool(false),
			Limit:             aws.Int32(int32(limit + 1 - len(out))),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("query %s: %w", TimestampIndex, err)
		}
		records, err := decodeDrugs(resp.Items)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, records...)
		if len(resp.LastEvaluatedKey) == 0 {
			break
		}
		startKey = resp.LastEvaluatedKey
	}
	records, next := page(out, limit)
	return records, next, nil
}
