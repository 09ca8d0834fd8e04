package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// ErrorList is a deduplicated, order-preserving set of defect codes stored as
// a JSON column.
type ErrorList []string

// Scan implements the sql.Scanner interface
func (e *ErrorList) Scan(value interface{}) error {
	if value == nil {
		*e = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	if len(bytes) == 0 {
		*e = nil
		return nil
	}
	return json.Unmarshal(bytes, e)
}

// Value implements the driver.Valuer interface
func (e ErrorList) Value() (driver.Value, error) {
	if e == nil {
		return "[]", nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Has reports whether the list contains a defect code
func (e ErrorList) Has(code string) bool {
	for _, c := range e {
		if c == code {
			return true
		}
	}
	return false
}

// DedupErrors removes duplicate codes, preserving first-occurrence order
func DedupErrors(list []string) ErrorList {
	if list == nil {
		return nil
	}
	seen := make(map[string]bool, len(list))
	out := make(ErrorList, 0, len(list))
	for _, code := range list {
		if !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	return out
}

// SameErrorSet compares two defect lists as sets
func SameErrorSet(a, b []string) bool {
	has := func(list []string, code string) bool {
		for _, c := range list {
			if c == code {
				return true
			}
		}
		return false
	}
	for _, code := range a {
		if !has(b, code) {
			return false
		}
	}
	for _, code := range b {
		if !has(a, code) {
			return false
		}
	}
	return true
}
