package dbtypes

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// IntArray maps a Postgres integer[] column (array literal form: {6,12}).
type IntArray []int

func (a *IntArray) Scan(src any) error {
	if src == nil {
		*a = IntArray{}
		return nil
	}

	switch v := src.(type) {
	case string:
		return a.parseFromString(v)
	case []byte:
		return a.parseFromString(string(v))
	default:
		return fmt.Errorf("IntArray: unsupported Scan type %T", src)
	}
}

func (a IntArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	parts := make([]string, 0, len(a))
	for _, n := range a {
		parts = append(parts, strconv.Itoa(n))
	}
	return "{" + strings.Join(parts, ",") + "}", nil
}

func (a *IntArray) parseFromString(s string) error {
	s = strings.TrimSpace(s)
	if s == "{}" || s == "" {
		*a = IntArray{}
		return nil
	}
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	if strings.TrimSpace(s) == "" {
		*a = IntArray{}
		return nil
	}
	parts := strings.Split(s, ",")
	out := make(IntArray, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return fmt.Errorf("IntArray: parsing %q: %w", part, err)
		}
		out = append(out, n)
	}
	*a = out
	return nil
}

// Contains reports whether n is present in the array.
func (a IntArray) Contains(n int) bool {
	for _, candidate := range a {
		if candidate == n {
			return true
		}
	}
	return false
}
