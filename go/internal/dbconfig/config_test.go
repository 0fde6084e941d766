package dbconfig

import "testing"

func TestDSNFromFields(t *testing.T) {
	cfg := Config{Host: "db", Port: 5433, User: "poker", Password: "p@ss", Database: "pointing", SSLMode: "disable"}
	want := "postgres://poker:p%40ss@db:5433/pointing?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}
}

func TestDatabaseURLWins(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@remote/db")
	t.Setenv("DB_HOST", "ignored")

	cfg := NewConfigFromEnv()
	if got := cfg.DSN(); got != "postgres://u:p@remote/db" {
		t.Fatalf("expected DATABASE_URL to win, got %q", got)
	}
}

func TestDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_PORT", "not-a-number")

	cfg := NewConfigFromEnv()
	if cfg.Port != 5432 || cfg.Database == "" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}
