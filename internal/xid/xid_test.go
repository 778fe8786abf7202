package xid

import (
	"strings"
	"testing"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a := New("sale")
	b := New("sale")
	if !strings.HasPrefix(a, "sale-") {
		t.Fatalf("expected sale- prefix, got %s", a)
	}
	if a == b {
		t.Fatalf("expected distinct identifiers, got %s twice", a)
	}
	if strings.Contains(New(""), "-") {
		t.Fatalf("expected bare identifier without separators")
	}
}
