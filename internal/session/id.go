package session

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID prefixes.
const (
	sessionPrefix = "ses_"
	messagePrefix = "msg_"
	partPrefix    = "prt_"
)

// generateID returns a prefixed, lexically time-ordered ULID.
func generateID(prefix string) string {
	return prefix + strings.ToLower(ulid.Make().String())
}

func now() int64 {
	return time.Now().UnixMilli()
}

func ptr[T any](v T) *T {
	return &v
}
