package planbase

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewID(t *testing.T) {
	id1 := NewID()
	time.Sleep(1 * time.Millisecond)
	id2 := NewID()

	if !IsValidID(id1) || !IsValidID(id2) {
		t.Fatalf("NewID() generated invalid IDs: %s, %s", id1, id2)
	}
	if id1 == id2 {
		t.Error("NewID() generated duplicate IDs")
	}

	// keys list in creation order
	if id1 > id2 {
		t.Error("UUIDv7 not time-ordered: id1 should be < id2")
	}

	parsed, err := uuid.Parse(id1)
	if err != nil {
		t.Fatalf("uuid.Parse: %v", err)
	}
	if parsed.Version() != 7 {
		t.Errorf("Expected UUIDv7, got version %d", parsed.Version())
	}
}

func TestIsValidID(t *testing.T) {
	testCases := []struct {
		id    string
		valid bool
	}{
		{NewID(), true},
		{uuid.New().String(), true},
		{"invalid", false},
		{"", false},
		{"member-1", false},
		{"00000000-0000-0000-0000-000000000000", true},
	}

	for _, tc := range testCases {
		if got := IsValidID(tc.id); got != tc.valid {
			t.Errorf("IsValidID(%q) = %v, want %v", tc.id, got, tc.valid)
		}
	}
}

func TestValidKeySegment(t *testing.T) {
	for id, want := range map[string]bool{
		NewID():    true,
		"member-1": true,
		"":         false,
		"a/b":      false,
		`a\b`:      false,
		".hidden":  false,
		"..":       false,
	} {
		if got := validKeySegment(id); got != want {
			t.Errorf("validKeySegment(%q) = %v, want %v", id, got, want)
		}
	}
}

func BenchmarkNewID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewID()
	}
}
