package retry

import "github.com/google/uuid"

// IdempotencyKeyHeader is the request header Stripe uses to deduplicate retried requests.
const IdempotencyKeyHeader = "Idempotency-Key"

// NewIdempotencyKey generates a random UUIDv4 idempotency key.
func NewIdempotencyKey() string {
	return uuid.NewString()
}
