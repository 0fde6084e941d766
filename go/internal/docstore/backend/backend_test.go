package backend

import (
	"context"
	"testing"

	"github.com/mcdev12/pointing/go/internal/docstore/memory"
)

func TestOpenDefaultsToMemory(t *testing.T) {
	store, closeFn, err := Open(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer closeFn()

	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, _, err := Open(context.Background(), Config{Backend: "etcd"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("STORE_BACKEND", "nats")
	t.Setenv("NATS_URL", "nats://example:4222")

	cfg := Config{Backend: "memory", NATSURL: "nats://localhost:4222"}
	cfg.ApplyEnv()
	if cfg.Backend != "nats" || cfg.NATSURL != "nats://example:4222" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
