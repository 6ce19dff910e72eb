package database

import (
	"context"
	"testing"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Driver != DriverPostgres {
		t.Fatalf("Driver=%q, want postgres", cfg.Driver)
	}
}

func TestConfigValidate_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "mysql")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestConfigValidate_IdleAboveOpen(t *testing.T) {
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "2")
	t.Setenv("DATABASE_MAX_IDLE_CONNS", "3")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpenSQLite_UniqueViolation(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `CREATE TABLE t (id TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO t (id) VALUES ('a')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO t (id) VALUES ('a')`)
	if !IsUniqueViolation(err) {
		t.Fatalf("IsUniqueViolation(%v)=false", err)
	}
}
