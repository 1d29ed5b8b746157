package connector

import (
	"testing"
	"time"
)

func TestParseSlackTS(t *testing.T) {
	got, err := parseSlackTS("1717250400.123456")
	if err != nil {
		t.Fatalf("failed to parse ts: %v", err)
	}

	want := time.Date(2024, 6, 1, 14, 0, 0, 123456000, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if _, err := parseSlackTS("not-a-ts"); err == nil {
		t.Error("expected error for malformed ts")
	}
}
