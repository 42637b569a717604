package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/crmarques/funcvault/faults"
	secretdomain "github.com/crmarques/funcvault/secrets"
)

// loadHostSecretsLocked reads, heals, and when necessary rewrites the host
// document, synthesizing a default one with a freshly generated master key
// when none exists. The write-back happens before returning so callers never
// observe unhealed ciphertext twice for the same file state.
func (m *DefaultSecretManager) loadHostSecretsLocked(ctx context.Context) (secretdomain.HostSecrets, error) {
	host, exists, err := m.readHostSecretsLocked(ctx)
	if err != nil {
		return secretdomain.HostSecrets{}, err
	}
	if exists && !hostSecretsDirty(host) {
		return host, nil
	}

	if !exists {
		masterValue, err := secretdomain.GenerateSecretValue()
		if err != nil {
			return secretdomain.HostSecrets{}, err
		}
		host = secretdomain.HostSecrets{
			MasterKey: secretdomain.Key{Name: secretdomain.MasterKeyName, Value: masterValue},
		}
		m.log.Info("generated default host secrets")
	} else {
		m.log.Info("healing stale host secrets")
	}

	if err := m.persistHostSecretsLocked(ctx, host, exists); err != nil {
		return secretdomain.HostSecrets{}, err
	}
	return host, nil
}

// readHostSecretsLocked reads and decrypts the host document without
// generating defaults or writing anything. The returned document carries
// Stale flags on keys that need rewriting.
func (m *DefaultSecretManager) readHostSecretsLocked(ctx context.Context) (secretdomain.HostSecrets, bool, error) {
	scope := secretdomain.HostScope()
	data, exists, err := m.repo.Read(ctx, scope)
	if err != nil {
		return secretdomain.HostSecrets{}, false, err
	}
	if !exists {
		return secretdomain.HostSecrets{}, false, nil
	}

	var stored secretdomain.HostSecrets
	if err := json.Unmarshal(data, &stored); err != nil {
		return secretdomain.HostSecrets{}, false, malformedError("host secrets document failed to parse", err)
	}
	if stored.MasterKey.Name == "" {
		return secretdomain.HostSecrets{}, false, malformedError("host secrets document is missing the master key", nil)
	}

	master, err := m.readKey(stored.MasterKey)
	if err != nil {
		return secretdomain.HostSecrets{}, false, err
	}
	functionKeys, err := m.readKeys(stored.FunctionKeys)
	if err != nil {
		return secretdomain.HostSecrets{}, false, err
	}
	systemKeys, err := m.readKeys(stored.SystemKeys)
	if err != nil {
		return secretdomain.HostSecrets{}, false, err
	}

	return secretdomain.HostSecrets{
		MasterKey:    master,
		FunctionKeys: functionKeys,
		SystemKeys:   systemKeys,
	}, true, nil
}

// loadFunctionSecretsLocked is the function-scope counterpart of
// loadHostSecretsLocked: absent documents get a single generated
// default-named key.
func (m *DefaultSecretManager) loadFunctionSecretsLocked(ctx context.Context, scope secretdomain.ScopeID) (secretdomain.FunctionSecrets, error) {
	function, exists, err := m.readFunctionSecretsLocked(ctx, scope)
	if err != nil {
		return secretdomain.FunctionSecrets{}, err
	}
	if exists && !functionSecretsDirty(function) {
		return function, nil
	}

	if !exists {
		value, err := secretdomain.GenerateSecretValue()
		if err != nil {
			return secretdomain.FunctionSecrets{}, err
		}
		function = secretdomain.FunctionSecrets{
			Keys: []secretdomain.Key{{Name: secretdomain.DefaultFunctionKeyName, Value: value}},
		}
		m.log.Info("generated default function secrets", "function", scope.FunctionName)
	} else {
		m.log.Info("healing stale function secrets", "function", scope.FunctionName)
	}

	if err := m.persistFunctionSecretsLocked(ctx, scope, function, exists); err != nil {
		return secretdomain.FunctionSecrets{}, err
	}
	return function, nil
}

func (m *DefaultSecretManager) readFunctionSecretsLocked(ctx context.Context, scope secretdomain.ScopeID) (secretdomain.FunctionSecrets, bool, error) {
	data, exists, err := m.repo.Read(ctx, scope)
	if err != nil {
		return secretdomain.FunctionSecrets{}, false, err
	}
	if !exists {
		return secretdomain.FunctionSecrets{}, false, nil
	}

	var stored secretdomain.FunctionSecrets
	if err := json.Unmarshal(data, &stored); err != nil {
		return secretdomain.FunctionSecrets{}, false, malformedError(
			fmt.Sprintf("function secrets document for %q failed to parse", scope.FunctionName), err)
	}

	keys, err := m.readKeys(stored.Keys)
	if err != nil {
		return secretdomain.FunctionSecrets{}, false, err
	}

	function := secretdomain.FunctionSecrets{
		Keys:            keys,
		DecryptionKeyID: stored.DecryptionKeyID,
	}
	// A document written under a superseded key version is rewritten even
	// when every key decrypted cleanly.
	if stored.DecryptionKeyID != "" && stored.DecryptionKeyID != m.converters.CurrentKeyID() {
		function.Stale = true
	}
	return function, true, nil
}

// readKey decrypts one stored key. An undecryptable value is regenerated and
// flagged stale so the caller rewrites it; any other failure propagates.
func (m *DefaultSecretManager) readKey(key secretdomain.Key) (secretdomain.Key, error) {
	read, err := m.converters.ReaderFor(key).ReadValue(key)
	if err == nil {
		return read, nil
	}
	if !faults.IsCategory(err, faults.DecryptionError) {
		return secretdomain.Key{}, err
	}

	value, genErr := secretdomain.GenerateSecretValue()
	if genErr != nil {
		return secretdomain.Key{}, genErr
	}
	m.log.Info("regenerating undecryptable secret", "key", key.Name)
	return secretdomain.Key{Name: key.Name, Value: value, Stale: true}, nil
}

func (m *DefaultSecretManager) readKeys(keys []secretdomain.Key) ([]secretdomain.Key, error) {
	out := make([]secretdomain.Key, 0, len(keys))
	for _, key := range keys {
		read, err := m.readKey(key)
		if err != nil {
			return nil, err
		}
		out = append(out, read)
	}
	return out, nil
}

// persistHostSecretsLocked encrypts the plaintext document and writes it
// through the repository, which rotates a backup first. Healing rewrites are
// flagged so the repository can tell them from caller mutations when
// enforcing the backup quota.
func (m *DefaultSecretManager) persistHostSecretsLocked(ctx context.Context, host secretdomain.HostSecrets, healed bool) error {
	master, err := m.converters.Writer().WriteValue(host.MasterKey)
	if err != nil {
		return err
	}
	functionKeys, err := m.writeKeys(host.FunctionKeys)
	if err != nil {
		return err
	}
	systemKeys, err := m.writeKeys(host.SystemKeys)
	if err != nil {
		return err
	}

	sealed := secretdomain.HostSecrets{
		MasterKey:    master,
		FunctionKeys: functionKeys,
		SystemKeys:   systemKeys,
	}
	data, err := json.MarshalIndent(sealed, "", "  ")
	if err != nil {
		return internalError("failed to encode host secrets document", err)
	}
	if healed {
		return m.repo.WriteHealed(ctx, secretdomain.HostScope(), data)
	}
	return m.repo.Write(ctx, secretdomain.HostScope(), data)
}

func (m *DefaultSecretManager) persistFunctionSecretsLocked(ctx context.Context, scope secretdomain.ScopeID, function secretdomain.FunctionSecrets, healed bool) error {
	keys, err := m.writeKeys(function.Keys)
	if err != nil {
		return err
	}

	sealed := secretdomain.FunctionSecrets{
		Keys:            keys,
		DecryptionKeyID: m.converters.CurrentKeyID(),
	}
	data, err := json.MarshalIndent(sealed, "", "  ")
	if err != nil {
		return internalError("failed to encode function secrets document", err)
	}
	if healed {
		return m.repo.WriteHealed(ctx, scope, data)
	}
	return m.repo.Write(ctx, scope, data)
}

func (m *DefaultSecretManager) writeKeys(keys []secretdomain.Key) ([]secretdomain.Key, error) {
	out := make([]secretdomain.Key, 0, len(keys))
	for _, key := range keys {
		sealed, err := m.converters.Writer().WriteValue(key)
		if err != nil {
			return nil, err
		}
		out = append(out, sealed)
	}
	return out, nil
}

func hostSecretsDirty(host secretdomain.HostSecrets) bool {
	if host.MasterKey.Stale {
		return true
	}
	return anyStale(host.FunctionKeys) || anyStale(host.SystemKeys)
}

func functionSecretsDirty(function secretdomain.FunctionSecrets) bool {
	return function.Stale || anyStale(function.Keys)
}

func anyStale(keys []secretdomain.Key) bool {
	for _, key := range keys {
		if key.Stale {
			return true
		}
	}
	return false
}

func validationError(message string, cause error) error {
	return faults.NewTypedError(faults.ValidationError, message, cause)
}

func malformedError(message string, cause error) error {
	return faults.NewTypedError(faults.MalformedError, message, cause)
}

func internalError(message string, cause error) error {
	return faults.NewTypedError(faults.InternalError, message, cause)
}
