package util

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUIDv4 string.
func NewID() string {
	return uuid.NewString()
}

// NewObjectKey joins prefix segments with a unique leaf so two uploads of the
// same filename never share a key. name must already be a safe filename.
func NewObjectKey(name string, prefix ...string) string {
	leaf := NewID()
	if name = strings.TrimSpace(name); name != "" {
		leaf += "-" + name
	}
	return path.Join(append(prefix, leaf)...)
}
