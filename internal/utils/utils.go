package utils

import (
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// CalculateHash returns a quoted CRC32 checksum of the data.
func CalculateHash(data []byte) string {
	table := crc32.MakeTable(crc32.IEEE)
	return fmt.Sprintf("\"%08x\"", crc32.Checksum(data, table))
}

// GenerateRandomID generates a random ID for subscriptions
func GenerateRandomID() string {
	return uuid.NewString()
}

// FormatVersion renders a document version as a quoted header value.
func FormatVersion(v int64) string {
	return strconv.Quote(strconv.FormatInt(v, 10))
}

// ParseVersion reads a version from a Version or If-Match header. Quotes and
// a weak validator prefix are accepted.
func ParseVersion(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "W/")
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	return v, nil
}
