package domain

import "time"

// CodePurpose scopes a one-time code to the flow that issued it.
type CodePurpose string

const (
	PurposeRegister       CodePurpose = "REGISTER"
	PurposeForgetPassword CodePurpose = "FORGET_PASSWORD"
)

// OneTimeCode is a short-lived credential bound to a user and a purpose.
// The code value itself is never stored — only its bcrypt hash.
// PK: user_id, SK: code_id (ULID, so descending queries yield newest first).
// ExpiresAt is a Unix timestamp used as DynamoDB TTL.
type OneTimeCode struct {
	UserID    string      `json:"user_id" dynamodbav:"user_id"`
	CodeID    string      `json:"code_id" dynamodbav:"code_id"`
	CodeHash  string      `json:"-" dynamodbav:"code_hash"`
	Purpose   CodePurpose `json:"purpose" dynamodbav:"purpose"`
	ExpiresAt int64       `json:"expires_at" dynamodbav:"expires_at"`
	Used      bool        `json:"used" dynamodbav:"used"`
	CreatedAt time.Time   `json:"created" dynamodbav:"created_at"`
}

// Expired reports whether the code's expiry has passed at the given time.
func (c *OneTimeCode) Expired(now time.Time) bool {
	return c.ExpiresAt <= now.Unix()
}
