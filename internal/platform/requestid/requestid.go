package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
)

const Header = "X-Request-Id"

func New() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// FromRequest reuses a caller supplied id when it looks sane, otherwise mints one.
func FromRequest(r *http.Request) string {
	if r != nil {
		if v := strings.TrimSpace(r.Header.Get(Header)); v != "" && len(v) <= 128 {
			return v
		}
	}
	id, err := New()
	if err != nil {
		return "unknown"
	}
	return id
}
