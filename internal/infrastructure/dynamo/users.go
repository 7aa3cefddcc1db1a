package dynamo

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-auth-api/internal/domain"
)

// CreateUser atomically writes the user row, both uniqueness claim items
// and the user's first one-time code. The claim items are conditioned on
// attribute_not_exists, so the store — not the application — is the final
// arbiter of email/username uniqueness: two concurrent registrations for
// the same identity resolve to exactly one winner, the loser gets
// domain.ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u *domain.User, code *domain.OneTimeCode) error {
	userItem, err := attributevalue.MarshalMap(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	codeItem, err := attributevalue.MarshalMap(code)
	if err != nil {
		return fmt.Errorf("marshal code: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(s.usersTable),
				Item:                userItem,
				ConditionExpression: aws.String("attribute_not_exists(user_id)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(s.usersTable),
				Item:                claimItem(claimEmailPrefix+u.Email, u.UserID),
				ConditionExpression: aws.String("attribute_not_exists(user_id)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(s.usersTable),
				Item:                claimItem(claimUsernamePrefix+u.Username, u.UserID),
				ConditionExpression: aws.String("attribute_not_exists(user_id)"),
			}},
			{Put: &types.Put{
				TableName: aws.String(s.codesTable),
				Item:      codeItem,
			}},
		},
	})
	if txConditionFailed(err) {
		return fmt.Errorf("email or username taken: %w", domain.ErrConflict)
	}
	return err
}

// DeleteUser removes the user row, its uniqueness claims and the given
// codes in one transaction. Used as the compensating action when mail
// delivery fails after registration committed.
func (s *Store) DeleteUser(ctx context.Context, u *domain.User, codeIDs ...string) error {
	items := []types.TransactWriteItem{
		{Delete: &types.Delete{
			TableName: aws.String(s.usersTable),
			Key:       strKey("user_id", u.UserID),
		}},
		{Delete: &types.Delete{
			TableName: aws.String(s.usersTable),
			Key:       strKey("user_id", claimEmailPrefix+u.Email),
		}},
		{Delete: &types.Delete{
			TableName: aws.String(s.usersTable),
			Key:       strKey("user_id", claimUsernamePrefix+u.Username),
		}},
	}
	for _, codeID := range codeIDs {
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName: aws.String(s.codesTable),
			Key:       compositeKey("user_id", u.UserID, "code_id", codeID),
		}})
	}
	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return err
}

func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.usersTable),
		Key:       strKey("user_id", userID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	var u domain.User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.queryUserGSI(ctx, "email-index", "email", email)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.queryUserGSI(ctx, "username-index", "username", username)
}

// GetUserByRefreshToken finds the user whose stored session token equals
// the supplied value. Logged-out users carry no refresh_token attribute
// and are absent from the index.
func (s *Store) GetUserByRefreshToken(ctx context.Context, token string) (*domain.User, error) {
	return s.queryUserGSI(ctx, "refresh_token-index", "refresh_token", token)
}

func (s *Store) UpdateUser(ctx context.Context, userID string, updates map[string]interface{}) error {
	updates[fieldUpdatedAt] = nowRFC3339()
	expr, names, values, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.usersTable),
		Key:                       strKey("user_id", userID),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(user_id)"),
	})
	if conditionFailed(err) {
		return fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	return err
}

// SetRefreshToken overwrites the user's single active session token.
// Concurrent logins race on this write and the last writer wins; the
// superseded token stops matching and is dead from that point on.
func (s *Store) SetRefreshToken(ctx context.Context, userID, token string) error {
	return s.UpdateUser(ctx, userID, map[string]interface{}{fieldRefreshToken: token})
}

// VerifyUser flips the verification flag and consumes the code in one
// transaction. The used=false condition makes consumption exactly-once:
// a concurrent verification with the same code loses the race and gets
// domain.ErrInvalidOrExpiredCode.
func (s *Store) VerifyUser(ctx context.Context, userID, codeID string) error {
	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:        aws.String(s.usersTable),
				Key:              strKey("user_id", userID),
				UpdateExpression: aws.String("SET verified = :t, updated_at = :now"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":t":   &types.AttributeValueMemberBOOL{Value: true},
					":now": &types.AttributeValueMemberS{Value: nowRFC3339()},
				},
				ConditionExpression: aws.String("attribute_exists(user_id)"),
			}},
			{Update: &types.Update{
				TableName:        aws.String(s.codesTable),
				Key:              compositeKey("user_id", userID, "code_id", codeID),
				UpdateExpression: aws.String("SET used = :t"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":t": &types.AttributeValueMemberBOOL{Value: true},
					":f": &types.AttributeValueMemberBOOL{Value: false},
				},
				ConditionExpression: aws.String("used = :f"),
			}},
		},
	})
	if txConditionFailed(err) {
		return fmt.Errorf("code already consumed: %w", domain.ErrInvalidOrExpiredCode)
	}
	return err
}

// ClearRefreshToken removes the stored session token, conditioned on it
// still equalling the supplied value. A token rotated out by a concurrent
// login cannot revoke the new session; the caller sees domain.ErrNotFound.
func (s *Store) ClearRefreshToken(ctx context.Context, userID, token string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.usersTable),
		Key:              strKey("user_id", userID),
		UpdateExpression: aws.String("REMOVE refresh_token SET updated_at = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tok": &types.AttributeValueMemberS{Value: token},
			":now": &types.AttributeValueMemberS{Value: nowRFC3339()},
		},
		ConditionExpression: aws.String("refresh_token = :tok"),
	})
	if conditionFailed(err) {
		return fmt.Errorf("no session holds this token: %w", domain.ErrNotFound)
	}
	return err
}

// ResetPassword stores the new hash and marks every FORGET_PASSWORD code
// for the user as used, all in one transaction, so a reader can never see
// the new password alongside a still-live reset code.
func (s *Store) ResetPassword(ctx context.Context, userID, passwordHash string) error {
	codes, err := s.codesByPurpose(ctx, userID, domain.PurposeForgetPassword)
	if err != nil {
		return err
	}

	items := []types.TransactWriteItem{
		{Update: &types.Update{
			TableName:        aws.String(s.usersTable),
			Key:              strKey("user_id", userID),
			UpdateExpression: aws.String("SET password_hash = :h, updated_at = :now"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":h":   &types.AttributeValueMemberS{Value: passwordHash},
				":now": &types.AttributeValueMemberS{Value: nowRFC3339()},
			},
			ConditionExpression: aws.String("attribute_exists(user_id)"),
		}},
	}
	for _, c := range codes {
		if c.Used {
			continue
		}
		items = append(items, markUsedItem(s.codesTable, userID, c.CodeID))
	}
	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if txConditionFailed(err) {
		return fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	return err
}

// ListUsers returns a page of user rows. cursor is a base64-encoded
// user_id used as ExclusiveStartKey; an empty next cursor means no more
// pages. Claim items are filtered out by requiring the username attribute.
func (s *Store) ListUsers(ctx context.Context, limit int32, cursor string) ([]domain.User, string, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.usersTable),
		FilterExpression: aws.String("attribute_exists(username)"),
		Limit:            aws.Int32(limit),
	}
	if cursor != "" {
		userID, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", domain.ErrNotFound)
		}
		input.ExclusiveStartKey = strKey("user_id", userID)
	}
	out, err := s.client.Scan(ctx, input)
	if err != nil {
		return nil, "", err
	}
	var users []domain.User
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &users); err != nil {
		return nil, "", err
	}
	nextCursor := ""
	if v, ok := out.LastEvaluatedKey["user_id"].(*types.AttributeValueMemberS); ok {
		nextCursor = encodeCursor(v.Value)
	}
	return users, nextCursor, nil
}

func (s *Store) queryUserGSI(ctx context.Context, index, attr, value string) (*domain.User, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.usersTable),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String("#a = :v"),
		ExpressionAttributeNames:  map[string]string{"#a": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: value}},
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("user by %s: %w", attr, domain.ErrNotFound)
	}
	var u domain.User
	if err := attributevalue.UnmarshalMap(out.Items[0], &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// claimItem builds a uniqueness marker row. It holds only its own key and
// the owning user's id, so it never appears on the email/username GSIs.
func claimItem(key, ownerID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: key},
		"owner":   &types.AttributeValueMemberS{Value: ownerID},
	}
}

func encodeCursor(userID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(userID))
}

func decodeCursor(cursor string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
