package stats

import (
	"crypto/md5"
	"encoding/hex"
)

// Error counts occurrences of one error text for a (name, method) pair.
type Error struct {
	Name        string
	Method      string
	Error       string
	Occurrences int64
}

func (e *Error) occurred() {
	e.Occurrences++
}

// Serialize renders the error in the master's errors layout.
func (e *Error) Serialize() map[string]any {
	return map[string]any{
		"name":        e.Name,
		"method":      e.Method,
		"error":       e.Error,
		"occurrences": e.Occurrences,
	}
}

// ErrorKey is the stable key the master uses to merge errors across workers.
func ErrorKey(method, name, errText string) string {
	sum := md5.Sum([]byte(method + name + errText))
	return hex.EncodeToString(sum[:])
}
