package realtime

import (
	"fmt"
	"math/rand"
	"time"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// syntheticID builds a render-key style id, msg-<millis>-<alnum> or
// notif-<millis>-<alnum>, for payloads the server shipped without one.
// These are unique enough to key a message list, nothing more; a
// server-assigned id always wins once known.
func syntheticID(prefix string) string {
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = idAlphabet[rand.Intn(len(idAlphabet))]
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), suffix)
}
