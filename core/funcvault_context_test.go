package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/crmarques/funcvault/faults"
)

func writeContextFile(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "context.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write context file: %v", err)
	}
	return path
}

func randomKeyB64(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestNewFuncvaultContextBootstrap(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	secretsDir := filepath.Join(dir, "secrets")
	contextPath := writeContextFile(t, dir, fmt.Sprintf(
		"secrets-path: %s\nencryption:\n  key: %s\n", secretsDir, randomKeyB64(t)))

	fv, err := NewFuncvaultContext(BootstrapConfig{
		ContextPath: contextPath,
		Metrics:     prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if fv.Context.Backup.MaxCount == 0 {
		t.Fatalf("defaults were not applied")
	}

	info, err := fv.Secrets.GetHostSecrets(context.Background())
	if err != nil {
		t.Fatalf("get host secrets through assembled stack: %v", err)
	}
	if info.MasterKey == "" {
		t.Fatalf("expected a generated master key")
	}
	if _, err := os.Stat(filepath.Join(secretsDir, "host.json")); err != nil {
		t.Fatalf("expected the host document under the configured path: %v", err)
	}
}

func TestNewFuncvaultContextMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewFuncvaultContext(BootstrapConfig{
		ContextPath: filepath.Join(t.TempDir(), "absent.yaml"),
	})
	if !faults.IsCategory(err, faults.NotFoundError) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestNewFuncvaultContextRejectsBadStartupKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	contextPath := writeContextFile(t, dir, fmt.Sprintf(
		"secrets-path: %s\nencryption:\n  key: %s\nstartup-context:\n  path: %s\n  key: not-base64!!\n",
		filepath.Join(dir, "secrets"), randomKeyB64(t), filepath.Join(dir, "startup.json")))

	_, err := NewFuncvaultContext(BootstrapConfig{ContextPath: contextPath})
	if !faults.IsCategory(err, faults.ValidationError) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
