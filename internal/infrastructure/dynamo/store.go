package dynamo

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-auth-api/internal/config"
)

// Store provides typed, transactional DynamoDB operations over the users
// and one_time_codes tables. Multi-row mutations that must be atomic
// (create user + first code, verify + consume, invalidate + reissue,
// reset password + cleanup) each execute as a single TransactWriteItems
// call; everything else is a plain item operation.
type Store struct {
	client     *dynamodb.Client
	usersTable string
	codesTable string
}

func NewStore(client *dynamodb.Client, tables config.DynamoTables) *Store {
	return &Store{
		client:     client,
		usersTable: tables.Users,
		codesTable: tables.OneTimeCodes,
	}
}
