package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/crmarques/funcvault/faults"
	secretdomain "github.com/crmarques/funcvault/secrets"
)

const (
	documentExtension = ".json"
	snapshotMarker    = "snapshot"

	defaultMaxBackups    = 10
	defaultRetryInterval = 100 * time.Millisecond
	defaultRetryCeiling  = 3 * time.Second
)

var _ secretdomain.Repository = (*FileSecretsRepository)(nil)

// FileSecretsRepository stores secret documents as JSON files under one
// directory. Every overwrite first copies the current content to a snapshot
// backup named from the scope, the current host identity, and a unique
// suffix, so scale-out instances sharing storage never collide.
type FileSecretsRepository struct {
	baseDir       string
	hostNames     secretdomain.HostNameProvider
	maxBackups    int
	retryInterval time.Duration
	retryCeiling  time.Duration
	log           logr.Logger
}

type Options struct {
	MaxBackups    int
	RetryInterval time.Duration
	RetryCeiling  time.Duration
	Logger        logr.Logger
}

type osHostNames struct{}

func (osHostNames) CurrentHostName() string {
	name, err := os.Hostname()
	if err != nil || strings.TrimSpace(name) == "" {
		return "unknown-host"
	}
	return name
}

func NewFileSecretsRepository(baseDir string, hostNames secretdomain.HostNameProvider, opts Options) *FileSecretsRepository {
	if hostNames == nil {
		hostNames = osHostNames{}
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	retryInterval := opts.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	retryCeiling := opts.RetryCeiling
	if retryCeiling <= 0 {
		retryCeiling = defaultRetryCeiling
	}
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	return &FileSecretsRepository{
		baseDir:       filepath.Clean(baseDir),
		hostNames:     hostNames,
		maxBackups:    maxBackups,
		retryInterval: retryInterval,
		retryCeiling:  retryCeiling,
		log:           log,
	}
}

// Read returns the raw document bytes for the scope, or false when no
// document exists. Concurrent readers are tolerated; an exclusively locked
// file is retried up to the configured ceiling.
func (r *FileSecretsRepository) Read(ctx context.Context, scope secretdomain.ScopeID) ([]byte, bool, error) {
	path := r.documentPath(scope)

	var data []byte
	var exists bool
	err := r.withRetry(ctx, func() error {
		if lockHeld(path) {
			return errLockHeld
		}
		content, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				data, exists = nil, false
				return nil
			}
			return err
		}
		data, exists = content, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return data, exists, nil
}

// Write persists a caller mutation, first rotating a backup of the current
// on-disk content. Backups over quota are purged oldest first.
func (r *FileSecretsRepository) Write(ctx context.Context, scope secretdomain.ScopeID, data []byte) error {
	return r.write(ctx, scope, data, false)
}

// WriteHealed persists a rewrite produced by staleness healing. When the
// backups over quota share the same logical content, the healing never
// converges and the write fails with a backup quota error instead of purging.
func (r *FileSecretsRepository) WriteHealed(ctx context.Context, scope secretdomain.ScopeID, data []byte) error {
	return r.write(ctx, scope, data, true)
}

func (r *FileSecretsRepository) write(ctx context.Context, scope secretdomain.ScopeID, data []byte, healed bool) error {
	path := r.documentPath(scope)

	if err := os.MkdirAll(r.baseDir, 0o700); err != nil {
		return internalError("failed to create secrets directory", err)
	}

	release, err := r.acquireLock(ctx, path)
	if err != nil {
		return err
	}
	defer release()

	current, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return internalError("failed to read current secrets document", err)
	}
	if err == nil {
		if err := r.enforceBackupQuota(scope, healed); err != nil {
			return err
		}
		if err := r.writeBackup(scope, current); err != nil {
			return err
		}
	}

	return r.replaceDocument(path, data)
}

// Snapshots enumerates existing backups for the scope, oldest first.
func (r *FileSecretsRepository) Snapshots(scope secretdomain.ScopeID) ([]string, error) {
	pattern := filepath.Join(r.baseDir, scopeFileName(scope)+"."+snapshotMarker+".*"+documentExtension)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, internalError("failed to enumerate secret snapshots", err)
	}
	return sortByModTime(matches), nil
}

func (r *FileSecretsRepository) replaceDocument(path string, data []byte) error {
	tmp, err := os.CreateTemp(r.baseDir, ".funcvault-tmp-*")
	if err != nil {
		return internalError("failed to create temporary secrets file", err)
	}
	tmpPath := tmp.Name()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return internalError("failed to restrict temporary secrets file", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return internalError("failed to write temporary secrets file", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return internalError("failed to flush temporary secrets file", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return internalError("failed to finalize temporary secrets file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return internalError("failed to replace secrets document", err)
	}
	return nil
}

func (r *FileSecretsRepository) documentPath(scope secretdomain.ScopeID) string {
	return filepath.Join(r.baseDir, scopeFileName(scope)+documentExtension)
}

// scopeFileName sanitizes the scope identity for use as a file name. Function
// scopes are already lower-cased by the domain model.
func scopeFileName(scope secretdomain.ScopeID) string {
	if scope.Type != secretdomain.FunctionSecretsType {
		return string(secretdomain.HostSecretsType)
	}
	var builder strings.Builder
	for _, ch := range scope.FunctionName {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
			builder.WriteRune(ch)
		default:
			builder.WriteRune('-')
		}
	}
	if builder.Len() == 0 {
		return "function"
	}
	return builder.String()
}

func sortByModTime(paths []string) []string {
	type entry struct {
		path string
		mod  time.Time
	}
	entries := make([]entry, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		entries = append(entries, entry{path: path, mod: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].mod.Equal(entries[j].mod) {
			return entries[i].path < entries[j].path
		}
		return entries[i].mod.Before(entries[j].mod)
	})
	sorted := make([]string, len(entries))
	for idx, item := range entries {
		sorted[idx] = item.path
	}
	return sorted
}

func internalError(message string, cause error) error {
	return faults.NewTypedError(faults.InternalError, message, cause)
}

func contentionError(message string, cause error) error {
	return faults.NewTypedError(faults.ContentionError, message, cause)
}

func quotaError(message string) error {
	return faults.NewTypedError(faults.BackupQuotaError, message, nil)
}

func formatFileList(paths []string) string {
	names := make([]string, len(paths))
	for idx, path := range paths {
		names[idx] = filepath.Base(path)
	}
	return fmt.Sprintf("[%s]", strings.Join(names, ", "))
}
