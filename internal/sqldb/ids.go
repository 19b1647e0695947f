package sqldb

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/mesh-intelligence/connector/pkg/types"
)

// newUUID generates a UUID v7, which sorts by creation time.
func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to UUID v4 if v7 generation fails
		return uuid.New().String()
	}
	return id.String()
}

func newULID() string {
	return ulid.Make().String()
}

func idGenerator(format string) func() string {
	if format == types.IDFormatULID {
		return newULID
	}
	return newUUID
}
