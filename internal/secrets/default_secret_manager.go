package secrets

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	secretdomain "github.com/crmarques/funcvault/secrets"
)

var _ secretdomain.Manager = (*DefaultSecretManager)(nil)

// DefaultSecretManager orchestrates reading, merging, lazily generating, and
// rewriting secrets. Per scope it serializes the read-heal-write sequence so
// at most one in-flight heal runs concurrently within the process; requests
// for different scopes proceed independently. The manager holds no cached
// copy across calls; every read re-derives from the repository, so external
// edits are observed.
type DefaultSecretManager struct {
	repo       secretdomain.Repository
	converters secretdomain.ConverterFactory
	startup    secretdomain.StartupContextProvider
	events     secretdomain.EventLogger
	log        logr.Logger

	flight singleflight.Group
	locks  sync.Map

	startupOnce sync.Once
	startupMu   sync.Mutex
	startupSet  *secretdomain.StartupSecrets
}

type noopEvents struct{}

func (noopEvents) BeginEvent(string, string) func() {
	return func() {}
}

func NewDefaultSecretManager(
	repo secretdomain.Repository,
	converters secretdomain.ConverterFactory,
	startup secretdomain.StartupContextProvider,
	events secretdomain.EventLogger,
	log logr.Logger,
) *DefaultSecretManager {
	if events == nil {
		events = noopEvents{}
	}
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &DefaultSecretManager{
		repo:       repo,
		converters: converters,
		startup:    startup,
		events:     events,
		log:        log,
	}
}

// GetHostSecrets returns the decrypted host secret set, generating defaults
// when no document exists and healing stale or undecryptable keys before
// returning.
func (m *DefaultSecretManager) GetHostSecrets(ctx context.Context) (secretdomain.HostSecretsInfo, error) {
	scope := secretdomain.HostScope()
	end := m.events.BeginEvent("get_host_secrets", scope.String())
	defer end()

	result, err, _ := m.flight.Do(scope.String(), func() (any, error) {
		if info := m.takeStartupHost(); info != nil {
			m.log.V(1).Info("serving host secrets from startup context")
			return *info, nil
		}

		lock := m.scopeLock(scope)
		lock.Lock()
		defer lock.Unlock()

		host, err := m.loadHostSecretsLocked(ctx)
		if err != nil {
			return nil, err
		}
		return secretdomain.HostSecretsInfo{
			MasterKey:    host.MasterKey.Value,
			FunctionKeys: secretdomain.KeysToMap(host.FunctionKeys),
			SystemKeys:   secretdomain.KeysToMap(host.SystemKeys),
		}, nil
	})
	if err != nil {
		return secretdomain.HostSecretsInfo{}, err
	}

	return copyHostSecretsInfo(result.(secretdomain.HostSecretsInfo)), nil
}

// GetFunctionSecrets returns the named function's decrypted secrets. When
// merged is true the result is the union with the host's function keys,
// function-scoped keys winning on name collision.
func (m *DefaultSecretManager) GetFunctionSecrets(ctx context.Context, functionName string, merged bool) (map[string]string, error) {
	scope := secretdomain.FunctionScope(functionName)
	if scope.FunctionName == "" {
		return nil, validationError("function name is required", nil)
	}
	end := m.events.BeginEvent("get_function_secrets", scope.String())
	defer end()

	result, err, _ := m.flight.Do(scope.String(), func() (any, error) {
		if secretsMap := m.takeStartupFunction(scope.FunctionName); secretsMap != nil {
			m.log.V(1).Info("serving function secrets from startup context", "function", scope.FunctionName)
			return secretsMap, nil
		}

		lock := m.scopeLock(scope)
		lock.Lock()
		defer lock.Unlock()

		function, err := m.loadFunctionSecretsLocked(ctx, scope)
		if err != nil {
			return nil, err
		}
		return secretdomain.KeysToMap(function.Keys), nil
	})
	if err != nil {
		return nil, err
	}
	own := copyKeyMap(result.(map[string]string))

	if !merged {
		return own, nil
	}
	hostInfo, err := m.GetHostSecrets(ctx)
	if err != nil {
		return nil, err
	}
	return secretdomain.MergeFunctionKeys(own, hostInfo.FunctionKeys), nil
}

func (m *DefaultSecretManager) scopeLock(scope secretdomain.ScopeID) *sync.Mutex {
	lock, _ := m.locks.LoadOrStore(scope.String(), &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// takeStartupHost consults the externally supplied startup secret set. The
// host entry is consumed by the first host request; later requests fall
// through to the repository.
func (m *DefaultSecretManager) takeStartupHost() *secretdomain.HostSecretsInfo {
	set := m.startupSecrets()
	if set == nil {
		return nil
	}
	m.startupMu.Lock()
	defer m.startupMu.Unlock()
	host := set.Host
	set.Host = nil
	return host
}

func (m *DefaultSecretManager) takeStartupFunction(functionName string) map[string]string {
	set := m.startupSecrets()
	if set == nil {
		return nil
	}
	m.startupMu.Lock()
	defer m.startupMu.Unlock()
	secretsMap, ok := set.Functions[functionName]
	if !ok {
		return nil
	}
	delete(set.Functions, functionName)
	return secretsMap
}

func (m *DefaultSecretManager) startupSecrets() *secretdomain.StartupSecrets {
	m.startupOnce.Do(func() {
		if m.startup == nil {
			return
		}
		if snapshot, ok := m.startup.TakeSnapshot(); ok {
			m.startupSet = snapshot
		}
	})
	return m.startupSet
}

func copyHostSecretsInfo(info secretdomain.HostSecretsInfo) secretdomain.HostSecretsInfo {
	return secretdomain.HostSecretsInfo{
		MasterKey:    info.MasterKey,
		FunctionKeys: copyKeyMap(info.FunctionKeys),
		SystemKeys:   copyKeyMap(info.SystemKeys),
	}
}

func copyKeyMap(source map[string]string) map[string]string {
	out := make(map[string]string, len(source))
	for name, value := range source {
		out[name] = value
	}
	return out
}
