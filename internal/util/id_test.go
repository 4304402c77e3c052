package util

import (
	"strings"
	"testing"
)

func TestNewObjectKeyIsUniquePerCall(t *testing.T) {
	a := NewObjectKey("agenda.pdf", "moms", "12", "attachments")
	b := NewObjectKey("agenda.pdf", "moms", "12", "attachments")
	if a == b {
		t.Fatalf("expected distinct keys, got %q twice", a)
	}
	if !strings.HasPrefix(a, "moms/12/attachments/") || !strings.HasSuffix(a, "-agenda.pdf") {
		t.Fatalf("unexpected key layout %q", a)
	}
	if key := NewObjectKey(" ", "moms"); strings.HasSuffix(key, "-") || !strings.HasPrefix(key, "moms/") {
		t.Fatalf("blank name should yield a bare id leaf, got %q", key)
	}
}
