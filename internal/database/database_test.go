package database

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/sandeepkv93/session-token-authority/internal/config"
	"github.com/sandeepkv93/session-token-authority/internal/domain"
)

func sqliteConfigForTest(t *testing.T) *config.Config {
	return &config.Config{
		DatabaseDriver: config.DatabaseDriverSQLite,
		DatabaseURL:    fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")),
	}
}

func TestMigrateCreatesSessionTables(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfigForTest(t)
	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })

	if err := Migrate(ctx, db, cfg.DatabaseDriver); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Migrate(ctx, db, cfg.DatabaseDriver); err != nil {
		t.Fatalf("second migrate should be a no-op: %v", err)
	}

	for _, table := range []string{"refresh_tokens", "revoked_tokens"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}

	row := &domain.RefreshToken{
		ID:        "row-1",
		TokenHash: "hash-1",
		UserID:    "u-1",
		CompanyID: "c-1",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
	}
	if err := db.WithContext(ctx).Create(row).Error; err != nil {
		t.Fatalf("insert into migrated table: %v", err)
	}
	if err := Ping(ctx, db); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(&config.Config{DatabaseDriver: "mysql"}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}

func TestNewRedisClient(t *testing.T) {
	server := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), &config.Config{RedisAddr: server.Addr()})
	if err != nil {
		t.Fatalf("new redis client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	addr := server.Addr()
	server.Close()
	if _, err := NewRedisClient(context.Background(), &config.Config{RedisAddr: addr}); err == nil {
		t.Fatal("expected connect error for closed server")
	}
}
