package sqldb

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"reputation_hub/internal/domain"
)

// Keyset cursors encode the (timestamp, id) of the last row on a page.

func encodeCursor(t time.Time, id int64) *string {
	raw := strconv.FormatInt(t.UTC().UnixNano(), 10) + ":" + strconv.FormatInt(id, 10)
	s := base64.RawURLEncoding.EncodeToString([]byte(raw))
	return &s
}

func decodeCursor(c *string) (time.Time, int64, bool, error) {
	if c == nil || *c == "" {
		return time.Time{}, 0, false, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(*c)
	if err != nil {
		return time.Time{}, 0, false, fmt.Errorf("%w: cursor", domain.ErrInvalidInput)
	}
	ts, idStr, ok := strings.Cut(string(b), ":")
	if !ok {
		return time.Time{}, 0, false, fmt.Errorf("%w: cursor", domain.ErrInvalidInput)
	}
	ns, err1 := strconv.ParseInt(ts, 10, 64)
	id, err2 := strconv.ParseInt(idStr, 10, 64)
	if err1 != nil || err2 != nil {
		return time.Time{}, 0, false, fmt.Errorf("%w: cursor", domain.ErrInvalidInput)
	}
	return time.Unix(0, ns).UTC(), id, true, nil
}

func clampLimit(n int) int {
	if n <= 0 {
		return 50
	}
	if n > 200 {
		return 200
	}
	return n
}
