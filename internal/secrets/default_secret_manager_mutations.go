package secrets

import (
	"context"
	"fmt"
	"strings"

	secretdomain "github.com/crmarques/funcvault/secrets"
)

// AddOrUpdateFunctionSecret creates or replaces a named secret. For host
// secrets, scope selects the host key list ("functionkeys" or "systemkeys");
// for function secrets, scope is the function name. An empty secretValue
// generates a new random one. The mutation is persisted before returning.
func (m *DefaultSecretManager) AddOrUpdateFunctionSecret(ctx context.Context, secretName string, secretValue string, scope string, secretsType secretdomain.SecretsType) (secretdomain.KeyOperationResult, error) {
	if strings.TrimSpace(secretName) == "" {
		return secretdomain.KeyOperationResult{}, validationError("secret name is required", nil)
	}
	if secretValue == "" {
		generated, err := secretdomain.GenerateSecretValue()
		if err != nil {
			return secretdomain.KeyOperationResult{}, err
		}
		secretValue = generated
	}

	switch secretsType {
	case secretdomain.HostSecretsType:
		return m.addOrUpdateHostKey(ctx, secretName, secretValue, scope)
	case secretdomain.FunctionSecretsType:
		return m.addOrUpdateFunctionKey(ctx, secretName, secretValue, scope)
	default:
		return secretdomain.KeyOperationResult{}, validationError(fmt.Sprintf("unknown secrets type %q", secretsType), nil)
	}
}

// SetMasterKey replaces the host master key, generating a value when none is
// supplied.
func (m *DefaultSecretManager) SetMasterKey(ctx context.Context, value string) (secretdomain.KeyOperationResult, error) {
	scope := secretdomain.HostScope()
	end := m.events.BeginEvent("set_master_key", scope.String())
	defer end()

	if value == "" {
		generated, err := secretdomain.GenerateSecretValue()
		if err != nil {
			return secretdomain.KeyOperationResult{}, err
		}
		value = generated
	}

	lock := m.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	host, exists, err := m.readHostSecretsLocked(ctx)
	if err != nil {
		return secretdomain.KeyOperationResult{}, err
	}

	result := secretdomain.OperationUpdated
	if !exists || host.MasterKey.Value == "" {
		result = secretdomain.OperationCreated
	}
	host.MasterKey = secretdomain.Key{Name: secretdomain.MasterKeyName, Value: value}

	if err := m.persistHostSecretsLocked(ctx, host, false); err != nil {
		return secretdomain.KeyOperationResult{}, err
	}
	m.log.Info("master key replaced", "result", string(result))
	return secretdomain.KeyOperationResult{Secret: value, Result: result}, nil
}

// DeleteSecret removes a named secret and persists the change. It reports
// false when the scope or the name does not exist.
func (m *DefaultSecretManager) DeleteSecret(ctx context.Context, secretName string, scope string, secretsType secretdomain.SecretsType) (bool, error) {
	if strings.TrimSpace(secretName) == "" {
		return false, validationError("secret name is required", nil)
	}

	switch secretsType {
	case secretdomain.HostSecretsType:
		return m.deleteHostKey(ctx, secretName, scope)
	case secretdomain.FunctionSecretsType:
		return m.deleteFunctionKey(ctx, secretName, scope)
	default:
		return false, validationError(fmt.Sprintf("unknown secrets type %q", secretsType), nil)
	}
}

func (m *DefaultSecretManager) addOrUpdateHostKey(ctx context.Context, secretName string, secretValue string, scope string) (secretdomain.KeyOperationResult, error) {
	keyScope, err := parseHostKeyScope(scope)
	if err != nil {
		return secretdomain.KeyOperationResult{}, err
	}
	scopeID := secretdomain.HostScope()
	end := m.events.BeginEvent("add_or_update_host_secret", scopeID.String())
	defer end()

	lock := m.scopeLock(scopeID)
	lock.Lock()
	defer lock.Unlock()

	host, exists, err := m.readHostSecretsLocked(ctx)
	if err != nil {
		return secretdomain.KeyOperationResult{}, err
	}
	if !exists {
		masterValue, err := secretdomain.GenerateSecretValue()
		if err != nil {
			return secretdomain.KeyOperationResult{}, err
		}
		host = secretdomain.HostSecrets{
			MasterKey: secretdomain.Key{Name: secretdomain.MasterKeyName, Value: masterValue},
		}
	}

	target := &host.FunctionKeys
	if keyScope == secretdomain.HostKeyScopeSystemKeys {
		target = &host.SystemKeys
	}
	result := upsertKey(target, secretName, secretValue)

	if err := m.persistHostSecretsLocked(ctx, host, false); err != nil {
		return secretdomain.KeyOperationResult{}, err
	}
	m.log.Info("host secret written", "key", secretName, "scope", string(keyScope), "result", string(result))
	return secretdomain.KeyOperationResult{Secret: secretValue, Result: result}, nil
}

func (m *DefaultSecretManager) addOrUpdateFunctionKey(ctx context.Context, secretName string, secretValue string, functionName string) (secretdomain.KeyOperationResult, error) {
	scopeID := secretdomain.FunctionScope(functionName)
	if scopeID.FunctionName == "" {
		return secretdomain.KeyOperationResult{}, validationError("function name is required", nil)
	}
	end := m.events.BeginEvent("add_or_update_function_secret", scopeID.String())
	defer end()

	lock := m.scopeLock(scopeID)
	lock.Lock()
	defer lock.Unlock()

	function, _, err := m.readFunctionSecretsLocked(ctx, scopeID)
	if err != nil {
		return secretdomain.KeyOperationResult{}, err
	}

	result := upsertKey(&function.Keys, secretName, secretValue)

	if err := m.persistFunctionSecretsLocked(ctx, scopeID, function, false); err != nil {
		return secretdomain.KeyOperationResult{}, err
	}
	m.log.Info("function secret written", "key", secretName, "function", scopeID.FunctionName, "result", string(result))
	return secretdomain.KeyOperationResult{Secret: secretValue, Result: result}, nil
}

func (m *DefaultSecretManager) deleteHostKey(ctx context.Context, secretName string, scope string) (bool, error) {
	keyScope, err := parseHostKeyScope(scope)
	if err != nil {
		return false, err
	}
	scopeID := secretdomain.HostScope()
	end := m.events.BeginEvent("delete_host_secret", scopeID.String())
	defer end()

	lock := m.scopeLock(scopeID)
	lock.Lock()
	defer lock.Unlock()

	host, exists, err := m.readHostSecretsLocked(ctx)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	target := &host.FunctionKeys
	if keyScope == secretdomain.HostKeyScopeSystemKeys {
		target = &host.SystemKeys
	}
	if !removeKey(target, secretName) {
		return false, nil
	}

	if err := m.persistHostSecretsLocked(ctx, host, false); err != nil {
		return false, err
	}
	m.log.Info("host secret deleted", "key", secretName, "scope", string(keyScope))
	return true, nil
}

func (m *DefaultSecretManager) deleteFunctionKey(ctx context.Context, secretName string, functionName string) (bool, error) {
	scopeID := secretdomain.FunctionScope(functionName)
	if scopeID.FunctionName == "" {
		return false, validationError("function name is required", nil)
	}
	end := m.events.BeginEvent("delete_function_secret", scopeID.String())
	defer end()

	lock := m.scopeLock(scopeID)
	lock.Lock()
	defer lock.Unlock()

	function, exists, err := m.readFunctionSecretsLocked(ctx, scopeID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	if !removeKey(&function.Keys, secretName) {
		return false, nil
	}

	if err := m.persistFunctionSecretsLocked(ctx, scopeID, function, false); err != nil {
		return false, err
	}
	m.log.Info("function secret deleted", "key", secretName, "function", scopeID.FunctionName)
	return true, nil
}

func parseHostKeyScope(scope string) (secretdomain.HostKeyScope, error) {
	switch secretdomain.HostKeyScope(strings.ToLower(strings.TrimSpace(scope))) {
	case secretdomain.HostKeyScopeFunctionKeys:
		return secretdomain.HostKeyScopeFunctionKeys, nil
	case secretdomain.HostKeyScopeSystemKeys:
		return secretdomain.HostKeyScopeSystemKeys, nil
	default:
		return "", validationError(fmt.Sprintf("unknown host key scope %q", scope), nil)
	}
}

func upsertKey(keys *[]secretdomain.Key, name string, value string) secretdomain.OperationResult {
	if idx := secretdomain.FindKey(*keys, name); idx >= 0 {
		(*keys)[idx] = secretdomain.Key{Name: name, Value: value}
		return secretdomain.OperationUpdated
	}
	*keys = append(*keys, secretdomain.Key{Name: name, Value: value})
	return secretdomain.OperationCreated
}

func removeKey(keys *[]secretdomain.Key, name string) bool {
	idx := secretdomain.FindKey(*keys, name)
	if idx < 0 {
		return false
	}
	*keys = append((*keys)[:idx], (*keys)[idx+1:]...)
	return true
}
