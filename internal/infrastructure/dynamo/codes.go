package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-auth-api/internal/domain"
)

// PutCode stores a new one-time code. Prior codes for the same purpose are
// left untouched; REGISTER resends deliberately keep earlier codes live
// until they expire.
func (s *Store) PutCode(ctx context.Context, c *domain.OneTimeCode) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal code: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.codesTable),
		Item:      item,
	})
	return err
}

// LatestValidCode returns the newest unused, unexpired code for the user
// and purpose, or domain.ErrNotFound. Expired rows are skipped here rather
// than swept by a background job (the table's TTL eventually reaps them).
func (s *Store) LatestValidCode(ctx context.Context, userID string, purpose domain.CodePurpose) (*domain.OneTimeCode, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.codesTable),
		KeyConditionExpression: aws.String("user_id = :uid"),
		FilterExpression:       aws.String("purpose = :p AND used = :f AND expires_at > :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
			":p":   &types.AttributeValueMemberS{Value: string(purpose)},
			":f":   &types.AttributeValueMemberBOOL{Value: false},
			":now": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", time.Now().Unix())},
		},
		ScanIndexForward: aws.Bool(false), // newest first — code_id is a ULID
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("no active code: %w", domain.ErrNotFound)
	}
	var c domain.OneTimeCode
	if err := attributevalue.UnmarshalMap(out.Items[0], &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// LatestCode returns the newest code for the user and purpose regardless
// of state. The password-reset flow uses it to check that the most recent
// reset code was consumed by the verify step.
func (s *Store) LatestCode(ctx context.Context, userID string, purpose domain.CodePurpose) (*domain.OneTimeCode, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.codesTable),
		KeyConditionExpression: aws.String("user_id = :uid"),
		FilterExpression:       aws.String("purpose = :p"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
			":p":   &types.AttributeValueMemberS{Value: string(purpose)},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("no code: %w", domain.ErrNotFound)
	}
	var c domain.OneTimeCode
	if err := attributevalue.UnmarshalMap(out.Items[0], &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkCodeUsed consumes a code exactly once; a second attempt fails the
// used=false condition and reports domain.ErrInvalidOrExpiredCode.
func (s *Store) MarkCodeUsed(ctx context.Context, userID, codeID string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.codesTable),
		Key:              compositeKey("user_id", userID, "code_id", codeID),
		UpdateExpression: aws.String("SET used = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberBOOL{Value: true},
			":f": &types.AttributeValueMemberBOOL{Value: false},
		},
		ConditionExpression: aws.String("used = :f"),
	})
	if conditionFailed(err) {
		return fmt.Errorf("code already consumed: %w", domain.ErrInvalidOrExpiredCode)
	}
	return err
}

// ReplaceActiveCode marks every unused code for the purpose as used and
// writes the replacement, atomically. A reader can never observe two live
// FORGET_PASSWORD codes for one user.
func (s *Store) ReplaceActiveCode(ctx context.Context, userID string, purpose domain.CodePurpose, c *domain.OneTimeCode) error {
	existing, err := s.codesByPurpose(ctx, userID, purpose)
	if err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal code: %w", err)
	}

	items := []types.TransactWriteItem{
		{Put: &types.Put{
			TableName: aws.String(s.codesTable),
			Item:      item,
		}},
	}
	for _, old := range existing {
		if old.Used {
			continue
		}
		items = append(items, markUsedItem(s.codesTable, userID, old.CodeID))
	}
	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return err
}

func (s *Store) codesByPurpose(ctx context.Context, userID string, purpose domain.CodePurpose) ([]domain.OneTimeCode, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.codesTable),
		KeyConditionExpression: aws.String("user_id = :uid"),
		FilterExpression:       aws.String("purpose = :p"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
			":p":   &types.AttributeValueMemberS{Value: string(purpose)},
		},
	})
	if err != nil {
		return nil, err
	}
	var codes []domain.OneTimeCode
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &codes); err != nil {
		return nil, err
	}
	return codes, nil
}

func markUsedItem(table, userID, codeID string) types.TransactWriteItem {
	return types.TransactWriteItem{Update: &types.Update{
		TableName:        aws.String(table),
		Key:              compositeKey("user_id", userID, "code_id", codeID),
		UpdateExpression: aws.String("SET used = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberBOOL{Value: true},
		},
	}}
}
