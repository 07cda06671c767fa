package router

import (
	"fmt"

	"github.com/spaolacci/murmur3"
)

func hash(v string) uint64 {
	return murmur3.Sum64([]byte(v)) & 0x7FFFFFFFFFFFFFFF // #nosec G115
}

// hashToken returns a stable opaque identifier for a raw token, safe
// to log and to key caches with. Raw tokens never leave this file.
func hashToken(token string) string {
	return fmt.Sprintf("%016x", hash(token))
}
