package utils

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// ParseDecimal reads a decimal-string money amount. Empty and malformed
// values come back as zero; the platform sends money as strings like "19.99".
func ParseDecimal(v string) decimal.Decimal {
	v = strings.TrimSpace(v)
	if v == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(v); err == nil {
		return d
	}
	return decimal.Zero
}

// TruncateToDay returns the UTC midnight of t's day. All daily metrics are
// keyed on this value.
func TruncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseTimeOrZero accepts RFC3339 timestamps and returns the zero time for
// anything else.
func ParseTimeOrZero(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

// NormalizeExternalId strips the platform's GID prefix
// ("gid://shopify/Order/123" -> "123"). Plain numeric ids pass through.
func NormalizeExternalId(id string) string {
	if !strings.Contains(id, "gid://") {
		return id
	}
	parts := strings.Split(id, "/")
	return parts[len(parts)-1]
}
