package natskv

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
)

func TestBucketName(t *testing.T) {
	cases := map[string]string{
		"voting-sessions": "pointing_voting-sessions",
		"a.b c":           "pointing_a_b_c",
	}
	for in, want := range cases {
		if got := bucketName("pointing_", in); got != want {
			t.Fatalf("bucketName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsRevisionConflict(t *testing.T) {
	wrongSeq := &jetstream.APIError{Code: 400, ErrorCode: jetstream.JSErrCodeStreamWrongLastSequence}

	if !isRevisionConflict(wrongSeq) {
		t.Fatalf("expected wrong last sequence to be a conflict")
	}
	if !isRevisionConflict(fmt.Errorf("wrapped: %w", jetstream.ErrKeyExists)) {
		t.Fatalf("expected wrapped ErrKeyExists to be a conflict")
	}
	if isRevisionConflict(errors.New("timeout")) {
		t.Fatalf("expected plain error not to be a conflict")
	}
}

func TestDecodeEmptyObject(t *testing.T) {
	doc, err := decode([]byte("null"))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if doc == nil {
		t.Fatalf("expected empty document, got nil")
	}
}
