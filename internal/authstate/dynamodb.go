package authstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"wa-gateway-lite/internal/model"
)

// dynamodbAPI is the minimal DynamoDB surface DynamoSnapshots needs.
// *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoSnapshots stores one item per session: PK = AUTH#<sessionId>.
type DynamoSnapshots struct {
	api       dynamodbAPI
	tableName string
}

func NewDynamoSnapshots(api dynamodbAPI, tableName string) (*DynamoSnapshots, error) {
	if api == nil {
		return nil, errors.New("authstate: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("authstate: table name must not be empty")
	}
	return &DynamoSnapshots{api: api, tableName: tableName}, nil
}

func authPK(sessionID string) string {
	return "AUTH#" + sessionID
}

func (d *DynamoSnapshots) key(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: authPK(sessionID)},
	}
}

func (d *DynamoSnapshots) Load(ctx context.Context, sessionID string) (model.AuthSnapshot, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            d.key(sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return model.AuthSnapshot{}, fmt.Errorf("authstate: dynamodb get: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return model.AuthSnapshot{}, ErrNoSnapshot
	}

	snap := model.AuthSnapshot{SessionID: sessionID, Keys: map[string]string{}}
	if v, ok := out.Item["creds"].(*types.AttributeValueMemberS); ok {
		snap.Creds = v.Value
	}
	if v, ok := out.Item["keys"].(*types.AttributeValueMemberS); ok && v.Value != "" {
		if err := json.Unmarshal([]byte(v.Value), &snap.Keys); err != nil {
			return model.AuthSnapshot{}, fmt.Errorf("authstate: decode keys: %w", err)
		}
	}
	if v, ok := out.Item["savedAt"].(*types.AttributeValueMemberN); ok {
		n, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return model.AuthSnapshot{}, fmt.Errorf("authstate: parse savedAt: %w", err)
		}
		snap.SavedAt = n
	}
	return snap, nil
}

func (d *DynamoSnapshots) Save(ctx context.Context, snap model.AuthSnapshot) error {
	keys := snap.Keys
	if keys == nil {
		keys = map[string]string{}
	}
	keysJSON, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("authstate: encode keys: %w", err)
	}

	_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: authPK(snap.SessionID)},
			"sessionId": &types.AttributeValueMemberS{Value: snap.SessionID},
			"creds":     &types.AttributeValueMemberS{Value: snap.Creds},
			"keys":      &types.AttributeValueMemberS{Value: string(keysJSON)},
			"savedAt":   &types.AttributeValueMemberN{Value: strconv.FormatInt(snap.SavedAt, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("authstate: dynamodb put: %w", err)
	}
	return nil
}

func (d *DynamoSnapshots) Delete(ctx context.Context, sessionID string) error {
	_, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.key(sessionID),
	})
	if err != nil {
		return fmt.Errorf("authstate: dynamodb delete: %w", err)
	}
	return nil
}
