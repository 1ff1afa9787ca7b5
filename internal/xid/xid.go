package xid

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// New returns a sortable id such as "audit-lq2x1c8k-9f3a01bc2d4e5f60". The
// time part keeps ids from one process roughly ordered.
func New(prefix string) string {
	stamp := strconv.FormatInt(time.Now().UnixNano(), 36)
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%s", prefix, stamp)
	}
	return fmt.Sprintf("%s-%s-%s", prefix, stamp, hex.EncodeToString(buf))
}

// Secret returns an unguessable URL-safe token of n random bytes. It carries
// no timestamp and is used where the id itself grants access.
func Secret(n int) (string, error) {
	if n < 16 {
		n = 16
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
