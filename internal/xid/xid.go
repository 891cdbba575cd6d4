// Package xid generates collision-resistant ids with a readable type prefix.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// Display formats a human-facing sequential identifier, e.g. S-000042 for a
// sale receipt. It is distinct from the internal primary key.
func Display(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%06d", prefix, seq)
}
