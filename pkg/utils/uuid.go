package utils

import "github.com/google/uuid"

// IsUUID reports whether s parses as a UUID. Message and reaction ids are
// uuid-typed, so request handlers reject malformed id params up front
// instead of round-tripping them to the DB.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
