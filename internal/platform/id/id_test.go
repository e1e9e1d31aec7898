package id

import (
	"strings"
	"testing"
)

func TestNew_Format(t *testing.T) {
	value := New()
	if len(value) != 26 {
		t.Fatalf("id length = %d, want 26", len(value))
	}
	if value != strings.ToLower(value) {
		t.Fatalf("id %q is not lowercase", value)
	}
	if strings.ContainsAny(value, "=/+ ") {
		t.Fatalf("id %q contains unsafe characters", value)
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		value := New()
		if seen[value] {
			t.Fatalf("duplicate id generated: %s", value)
		}
		seen[value] = true
	}
}

func TestNewWithPrefix(t *testing.T) {
	value := NewWithPrefix("env_")
	if !strings.HasPrefix(value, "env_") {
		t.Fatalf("id %q missing prefix", value)
	}
	if len(value) != len("env_")+26 {
		t.Fatalf("id length = %d, want %d", len(value), len("env_")+26)
	}
}
