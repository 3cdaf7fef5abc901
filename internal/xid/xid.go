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

// TempInvoiceNumber builds the human-readable placeholder number for a sale
// recorded offline. The wall-clock component keeps numbers roughly
// chronological per device; the random suffix guards against collisions from
// rapid successive sales within the same clock tick.
func TempInvoiceNumber(at time.Time) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("OFF-%d", at.UnixNano())
	}
	return fmt.Sprintf("OFF-%d-%s", at.UnixNano(), hex.EncodeToString(buf))
}
