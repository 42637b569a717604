package secrets

import "context"

// KeyReader decrypts a persisted key back to plaintext. The returned key must
// carry Stale=true when the stored value was produced by a superseded
// encryption key version, even when decryption succeeds. A value that cannot
// be decrypted with any known key version fails with a typed decryption
// error.
type KeyReader interface {
	ReadValue(key Key) (Key, error)
}

// KeyWriter encrypts a plaintext key into its persisted form, tagged with the
// current encryption key version. It performs no I/O.
type KeyWriter interface {
	WriteValue(key Key) (Key, error)
}

// ConverterFactory selects a reader per key so that legacy plaintext values
// and versioned ciphertext share one pipeline without the manager knowing
// cryptographic details.
type ConverterFactory interface {
	ReaderFor(key Key) KeyReader
	Writer() KeyWriter
	CurrentKeyID() string
}

// Repository is the durable store for secret documents. Read returns the raw
// document bytes and false when no document exists for the scope. Both write
// paths copy the current on-disk content to a snapshot backup before
// overwriting and enforce the configured backup quota: Write is for caller
// mutations and purges the oldest backups over quota, while WriteHealed is
// for rewrites produced by staleness healing and fails instead when the
// backups over quota share the same logical content, since that indicates a
// healing loop that never converges.
type Repository interface {
	Read(ctx context.Context, scope ScopeID) ([]byte, bool, error)
	Write(ctx context.Context, scope ScopeID, data []byte) error
	WriteHealed(ctx context.Context, scope ScopeID, data []byte) error
	Snapshots(scope ScopeID) ([]string, error)
}

// StartupSecrets is a pre-decrypted secret bundle supplied by the hosting
// process to skip repository generation on cold start.
type StartupSecrets struct {
	Host      *HostSecretsInfo
	Functions map[string]map[string]string
}

// StartupContextProvider yields the externally supplied startup secret set at
// most once per process lifetime. The second and later calls report false.
type StartupContextProvider interface {
	TakeSnapshot() (*StartupSecrets, bool)
}

// HostNameProvider resolves the identity of this host instance, used to keep
// backup file names unique across scale-out instances sharing storage.
type HostNameProvider interface {
	CurrentHostName() string
}

// EventLogger wraps each get-secrets call with a begin/end event pair. The
// returned func ends the event.
type EventLogger interface {
	BeginEvent(name string, scope string) func()
}

// Manager orchestrates reading, merging, lazily generating, and rewriting
// secrets across host and function scopes.
type Manager interface {
	GetHostSecrets(ctx context.Context) (HostSecretsInfo, error)
	GetFunctionSecrets(ctx context.Context, functionName string, merged bool) (map[string]string, error)
	AddOrUpdateFunctionSecret(ctx context.Context, secretName string, secretValue string, scope string, secretsType SecretsType) (KeyOperationResult, error)
	SetMasterKey(ctx context.Context, value string) (KeyOperationResult, error)
	DeleteSecret(ctx context.Context, secretName string, scope string, secretsType SecretsType) (bool, error)
}
