package dynamo

// DynamoDB attribute names used in map-style update expressions.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldRefreshToken = "refresh_token"
	fieldUpdatedAt    = "updated_at"

	// Uniqueness claim items share the users table; their partition keys
	// carry these prefixes so they can never collide with real user IDs
	// (ULIDs contain no '#').
	claimEmailPrefix    = "EMAIL#"
	claimUsernamePrefix = "USERNAME#"
)
