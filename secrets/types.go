package secrets

import "strings"

const (
	// MasterKeyName is the fixed name of the host master key.
	MasterKeyName = "master"

	// DefaultFunctionKeyName is the name given to the key generated for a
	// function that has no persisted secrets yet.
	DefaultFunctionKeyName = "default"
)

// Key is a single named secret. Stale is a runtime-only flag set by key
// readers when the stored value must be re-encrypted; it is never persisted.
type Key struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Encrypted bool   `json:"encrypted"`
	Stale     bool   `json:"-"`
}

// HostSecrets is the persisted document for host-scoped secrets. Key names
// are case-sensitive and unique within each list.
type HostSecrets struct {
	MasterKey    Key   `json:"masterKey"`
	FunctionKeys []Key `json:"functionKeys"`
	SystemKeys   []Key `json:"systemKeys"`
}

// FunctionSecrets is the persisted document for one function's secrets.
// DecryptionKeyID records which encryption key version produced the stored
// ciphertext so rotation can be detected at the document level. Stale is a
// runtime-only flag set by readers when the document was written under a
// superseded key version; it is never persisted.
type FunctionSecrets struct {
	Keys            []Key  `json:"keys"`
	DecryptionKeyID string `json:"decryptionKeyId,omitempty"`
	Stale           bool   `json:"-"`
}

// HostSecretsInfo is the decrypted projection of HostSecrets handed to
// callers.
type HostSecretsInfo struct {
	MasterKey    string            `json:"masterKey" yaml:"masterKey"`
	FunctionKeys map[string]string `json:"functionKeys" yaml:"functionKeys"`
	SystemKeys   map[string]string `json:"systemKeys" yaml:"systemKeys"`
}

type OperationResult string

const (
	OperationCreated  OperationResult = "Created"
	OperationUpdated  OperationResult = "Updated"
	OperationNotFound OperationResult = "NotFound"
)

// KeyOperationResult reports the outcome of a mutating secret operation.
type KeyOperationResult struct {
	Secret string          `json:"secret" yaml:"secret"`
	Result OperationResult `json:"result" yaml:"result"`
}

type SecretsType string

const (
	HostSecretsType     SecretsType = "host"
	FunctionSecretsType SecretsType = "function"
)

// HostKeyScope selects which host-scoped key list a host-level mutation
// targets.
type HostKeyScope string

const (
	HostKeyScopeFunctionKeys HostKeyScope = "functionkeys"
	HostKeyScopeSystemKeys   HostKeyScope = "systemkeys"
)

// ScopeID identifies the unit a secret collection belongs to: the host, or
// one named function. Function names are case-insensitive; the canonical
// form is lower-cased.
type ScopeID struct {
	Type         SecretsType
	FunctionName string
}

func HostScope() ScopeID {
	return ScopeID{Type: HostSecretsType}
}

func FunctionScope(functionName string) ScopeID {
	return ScopeID{
		Type:         FunctionSecretsType,
		FunctionName: strings.ToLower(strings.TrimSpace(functionName)),
	}
}

func (s ScopeID) String() string {
	if s.Type == FunctionSecretsType {
		return "function/" + s.FunctionName
	}
	return string(HostSecretsType)
}

// FindKey returns the index of the named key in keys, or -1. Lookup is
// case-sensitive.
func FindKey(keys []Key, name string) int {
	for idx := range keys {
		if keys[idx].Name == name {
			return idx
		}
	}
	return -1
}
