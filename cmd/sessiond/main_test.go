package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestVersionCommandPrintsBuildInfo(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), version) || !strings.Contains(out.String(), commit) {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"serve", "migrate", "reap", "revoke-user", "version"} {
		found, _, err := cmd.Find([]string{name})
		if err != nil || found.Name() != name {
			t.Fatalf("missing %s subcommand: %v", name, err)
		}
	}
}

func TestRevokeUserCommandRequiresUserID(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"revoke-user"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected missing argument error")
	}
}

func TestRevokeUserCommandAgainstEmptyStore(t *testing.T) {
	t.Setenv("APP_ENV", "clitest")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "file:"+filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("LOG_LEVEL", "error")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"revoke-user", "u-1"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(out.String()) != "refresh_tokens_revoked=0" {
		t.Fatalf("unexpected output %q", out.String())
	}
}
