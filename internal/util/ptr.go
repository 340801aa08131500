package util

import "strings"

func StringPtr(v string) *string { return &v }

func FloatPtr(v float64) *float64 { return &v }

// OptionalString returns nil for blank input.
func OptionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
