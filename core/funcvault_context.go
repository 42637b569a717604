package core

import (
	"encoding/base64"
	"os"

	"github.com/go-logr/logr"

	"github.com/crmarques/funcvault/config"
	"github.com/crmarques/funcvault/faults"
	"github.com/crmarques/funcvault/internal/providers/conversion"
	"github.com/crmarques/funcvault/internal/providers/metrics"
	"github.com/crmarques/funcvault/internal/providers/repository/filestore"
	"github.com/crmarques/funcvault/internal/providers/startup"
	internalsecrets "github.com/crmarques/funcvault/internal/secrets"
	"github.com/crmarques/funcvault/secrets"
)

// NewFuncvaultContext loads the context file and wires the default provider
// stack: versioned AES-GCM conversion, the file-backed repository with
// backup rotation, the optional startup-context fast path, and Prometheus
// event instrumentation.
func NewFuncvaultContext(opts BootstrapConfig) (FuncvaultContext, error) {
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	contextPath := opts.ContextPath
	if contextPath == "" {
		contextPath = os.Getenv(config.ContextFileEnvVar)
	}
	if contextPath == "" {
		contextPath = config.DefaultContextPath
	}

	resolved, err := config.LoadContext(contextPath)
	if err != nil {
		return FuncvaultContext{}, err
	}

	converters, err := conversion.NewDefaultConverterFactory(&resolved.Encryption)
	if err != nil {
		return FuncvaultContext{}, err
	}

	retryInterval, err := resolved.RetryInterval()
	if err != nil {
		return FuncvaultContext{}, err
	}
	retryCeiling, err := resolved.RetryCeiling()
	if err != nil {
		return FuncvaultContext{}, err
	}
	store := filestore.NewFileSecretsRepository(resolved.SecretsPath, nil, filestore.Options{
		MaxBackups:    resolved.Backup.MaxCount,
		RetryInterval: retryInterval,
		RetryCeiling:  retryCeiling,
		Logger:        log.WithName("filestore"),
	})

	startupProvider, err := buildStartupProvider(resolved.StartupContext, log)
	if err != nil {
		return FuncvaultContext{}, err
	}

	var events secrets.EventLogger = metrics.DiscardEventLogger{}
	if opts.Metrics != nil {
		events = metrics.NewPrometheusEventLogger(opts.Metrics)
	}

	manager := internalsecrets.NewDefaultSecretManager(store, converters, startupProvider, events, log.WithName("secrets"))

	return FuncvaultContext{
		Context: resolved,
		Secrets: manager,
		Store:   store,
		Events:  events,
	}, nil
}

func buildStartupProvider(cfg *config.StartupContextConfig, log logr.Logger) (secrets.StartupContextProvider, error) {
	if cfg == nil || cfg.Path == "" {
		return startup.Disabled(), nil
	}
	if cfg.Key == "" {
		return nil, faults.NewTypedError(faults.ValidationError, "startup context requires a decryption key", nil)
	}
	key, err := base64.StdEncoding.DecodeString(cfg.Key)
	if err != nil {
		return nil, faults.NewTypedError(faults.ValidationError, "startup context key is not valid base64", err)
	}
	if len(key) != 32 {
		return nil, faults.NewTypedError(faults.ValidationError, "startup context key must decode to 32 bytes", nil)
	}
	return startup.NewEncryptedBlobProvider(cfg.Path, key, log.WithName("startup")), nil
}
