package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crmarques/funcvault/faults"
	secretdomain "github.com/crmarques/funcvault/secrets"
)

type fixedHostNames struct {
	name string
}

func (p fixedHostNames) CurrentHostName() string {
	return p.name
}

func newTestRepository(t *testing.T, opts Options) (*FileSecretsRepository, string) {
	t.Helper()
	dir := t.TempDir()
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 5 * time.Millisecond
	}
	if opts.RetryCeiling == 0 {
		opts.RetryCeiling = 200 * time.Millisecond
	}
	return NewFileSecretsRepository(dir, fixedHostNames{name: "test-host"}, opts), dir
}

func TestReadAbsentDocument(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepository(t, Options{})
	data, exists, err := repo.Read(context.Background(), secretdomain.HostScope())
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if exists || data != nil {
		t.Fatalf("expected absent document, got exists=%v data=%q", exists, data)
	}
}

func TestWriteThenRead(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepository(t, Options{})
	scope := secretdomain.FunctionScope("HttpTrigger")
	doc := []byte(`{"keys":[{"name":"default","value":"v","encrypted":false}]}`)

	if err := repo.Write(context.Background(), scope, doc); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	data, exists, err := repo.Read(context.Background(), scope)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !exists {
		t.Fatalf("expected document to exist")
	}
	if string(data) != string(doc) {
		t.Fatalf("document mismatch: %q", data)
	}

	snapshots, err := repo.Snapshots(scope)
	if err != nil {
		t.Fatalf("snapshots failed: %v", err)
	}
	if len(snapshots) != 0 {
		t.Fatalf("first write must not create a backup, got %d", len(snapshots))
	}
}

func TestOverwriteRotatesBackup(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepository(t, Options{})
	scope := secretdomain.HostScope()
	first := []byte(`{"masterKey":{"name":"master","value":"one","encrypted":false}}`)
	second := []byte(`{"masterKey":{"name":"master","value":"two","encrypted":false}}`)

	if err := repo.Write(context.Background(), scope, first); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := repo.Write(context.Background(), scope, second); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	snapshots, err := repo.Snapshots(scope)
	if err != nil {
		t.Fatalf("snapshots failed: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("expected exactly one backup, got %d", len(snapshots))
	}
	backup, err := os.ReadFile(snapshots[0])
	if err != nil {
		t.Fatalf("failed to read backup: %v", err)
	}
	if string(backup) != string(first) {
		t.Fatalf("backup must hold the pre-overwrite content, got %q", backup)
	}
	base := filepath.Base(snapshots[0])
	for _, part := range []string{"host.", ".snapshot.", "test-host", ".json"} {
		if !strings.Contains(base, part) {
			t.Fatalf("backup name %q is missing %q", base, part)
		}
	}
}

func seedDuplicateSnapshots(t *testing.T, dir string) {
	t.Helper()
	doc := `{"masterKey":{"name":"master","value":"%d","encrypted":true}}`

	// Same key-name shape in every snapshot, as a heal loop would produce.
	for idx := 0; idx < 3; idx++ {
		name := fmt.Sprintf("host.snapshot.test-host.2026010100000%d.aaaa%04d.json", idx, idx)
		if err := os.WriteFile(filepath.Join(dir, name), []byte(fmt.Sprintf(doc, idx)), 0o600); err != nil {
			t.Fatalf("failed to seed snapshot: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "host.json"), []byte(fmt.Sprintf(doc, 99)), 0o600); err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}
}

func TestDuplicateBackupsFailHealingWrites(t *testing.T) {
	t.Parallel()

	repo, dir := newTestRepository(t, Options{MaxBackups: 3})
	scope := secretdomain.HostScope()
	seedDuplicateSnapshots(t, dir)

	err := repo.WriteHealed(context.Background(), scope, []byte(`{"masterKey":{"name":"master","value":"healed","encrypted":true}}`))
	if !faults.IsCategory(err, faults.BackupQuotaError) {
		t.Fatalf("expected backup quota error, got %v", err)
	}
	if !strings.Contains(err.Error(), "host.snapshot.test-host") {
		t.Fatalf("quota error must carry offending backup names, got %q", err.Error())
	}
}

func TestDuplicateBackupsDoNotBlockMutationWrites(t *testing.T) {
	t.Parallel()

	repo, dir := newTestRepository(t, Options{MaxBackups: 3})
	scope := secretdomain.HostScope()
	seedDuplicateSnapshots(t, dir)

	// A caller mutation produces the same key-name shape as a heal loop, but
	// it is legitimate history: purge, never fail.
	if err := repo.Write(context.Background(), scope, []byte(`{"masterKey":{"name":"master","value":"mutated","encrypted":true}}`)); err != nil {
		t.Fatalf("mutation write must not hit the heal-loop valve: %v", err)
	}

	snapshots, err := repo.Snapshots(scope)
	if err != nil {
		t.Fatalf("snapshots failed: %v", err)
	}
	if len(snapshots) != 3 {
		t.Fatalf("expected purge down to the maximum of 3, got %d", len(snapshots))
	}
}

func TestDistinctBackupsArePurgedOldestFirst(t *testing.T) {
	t.Parallel()

	repo, dir := newTestRepository(t, Options{MaxBackups: 3})
	scope := secretdomain.HostScope()

	// Distinct key-name shapes: legitimate history, not a heal loop.
	now := time.Now()
	for idx := 0; idx < 4; idx++ {
		name := fmt.Sprintf("host.snapshot.test-host.2026010100000%d.bbbb%04d.json", idx, idx)
		path := filepath.Join(dir, name)
		doc := fmt.Sprintf(`{"masterKey":{"name":"master","value":"v","encrypted":true},"functionKeys":[{"name":"Key%d","value":"v","encrypted":true}]}`, idx)
		if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
			t.Fatalf("failed to seed snapshot: %v", err)
		}
		stamp := now.Add(time.Duration(idx-10) * time.Minute)
		if err := os.Chtimes(path, stamp, stamp); err != nil {
			t.Fatalf("failed to age snapshot: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "host.json"), []byte(`{"masterKey":{"name":"master","value":"current","encrypted":true}}`), 0o600); err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}

	if err := repo.Write(context.Background(), scope, []byte(`{"masterKey":{"name":"master","value":"next","encrypted":true}}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	snapshots, err := repo.Snapshots(scope)
	if err != nil {
		t.Fatalf("snapshots failed: %v", err)
	}
	if len(snapshots) != 3 {
		t.Fatalf("expected purge down to the maximum of 3, got %d", len(snapshots))
	}
	for _, path := range snapshots {
		if strings.Contains(filepath.Base(path), "bbbb0000") {
			t.Fatalf("oldest snapshot should have been purged, still present: %q", path)
		}
	}
}

func TestWriteRetriesWhileLockHeld(t *testing.T) {
	t.Parallel()

	repo, dir := newTestRepository(t, Options{RetryInterval: 5 * time.Millisecond, RetryCeiling: time.Second})
	scope := secretdomain.HostScope()
	lockPath := filepath.Join(dir, "host.json.lock")
	if err := os.WriteFile(lockPath, nil, 0o600); err != nil {
		t.Fatalf("failed to hold lock: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.Remove(lockPath)
	}()

	if err := repo.Write(context.Background(), scope, []byte(`{"masterKey":{"name":"master","value":"v","encrypted":true}}`)); err != nil {
		t.Fatalf("write should succeed once the lock is released: %v", err)
	}
}

func TestContentionSurfacesAfterCeiling(t *testing.T) {
	t.Parallel()

	repo, dir := newTestRepository(t, Options{RetryInterval: 5 * time.Millisecond, RetryCeiling: 30 * time.Millisecond})
	scope := secretdomain.HostScope()
	lockPath := filepath.Join(dir, "host.json.lock")
	if err := os.WriteFile(lockPath, nil, 0o600); err != nil {
		t.Fatalf("failed to hold lock: %v", err)
	}

	err := repo.Write(context.Background(), scope, []byte(`{}`))
	if !faults.IsCategory(err, faults.ContentionError) {
		t.Fatalf("expected contention error, got %v", err)
	}

	_, _, err = repo.Read(context.Background(), scope)
	if !faults.IsCategory(err, faults.ContentionError) {
		t.Fatalf("expected read contention error, got %v", err)
	}
}
