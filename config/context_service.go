package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/crmarques/funcvault/faults"
)

const contextEnvPrefix = "FUNCVAULT_"

var contextEnvSetters = map[string]func(*Context, string) error{
	contextEnvPrefix + "SECRETS_PATH":          setSecretsPath,
	contextEnvPrefix + "ENCRYPTION_KEY":        setEncryptionKey,
	contextEnvPrefix + "ENCRYPTION_PASSPHRASE": setEncryptionPassphrase,
	contextEnvPrefix + "BACKUP_MAX_COUNT":      setBackupMaxCount,
	contextEnvPrefix + "STARTUP_CONTEXT_PATH":  setStartupContextPath,
	contextEnvPrefix + "STARTUP_CONTEXT_KEY":   setStartupContextKey,
}

// LoadContext reads the context file, applies environment overrides, fills
// defaults, and validates the result.
func LoadContext(path string) (*Context, error) {
	resolved, err := resolveContextPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, faults.NewTypedError(faults.NotFoundError, fmt.Sprintf("context file %q not found", resolved), nil)
		}
		return nil, faults.NewTypedError(faults.InternalError, "failed to read context file", err)
	}

	var ctx Context
	if err := yaml.Unmarshal(data, &ctx); err != nil {
		return nil, faults.NewTypedError(faults.MalformedError, "failed to parse context file", err)
	}

	if err := ApplyEnvOverrides(&ctx); err != nil {
		return nil, err
	}
	ApplyDefaults(&ctx)
	if err := Validate(&ctx); err != nil {
		return nil, err
	}
	return &ctx, nil
}

func ApplyEnvOverrides(ctx *Context) error {
	for name, setter := range contextEnvSetters {
		value, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if err := setter(ctx, value); err != nil {
			return faults.NewTypedError(faults.ValidationError, fmt.Sprintf("invalid %s override", name), err)
		}
	}
	return nil
}

func ApplyDefaults(ctx *Context) {
	if ctx.Backup.MaxCount == 0 {
		ctx.Backup.MaxCount = DefaultMaxBackupCount
	}
	if strings.TrimSpace(ctx.Retry.Interval) == "" {
		ctx.Retry.Interval = DefaultRetryInterval
	}
	if strings.TrimSpace(ctx.Retry.Ceiling) == "" {
		ctx.Retry.Ceiling = DefaultRetryCeiling
	}
}

func Validate(ctx *Context) error {
	if ctx == nil {
		return faults.NewTypedError(faults.ValidationError, "context is required", nil)
	}
	if strings.TrimSpace(ctx.SecretsPath) == "" {
		return faults.NewTypedError(faults.ValidationError, "secrets-path is required in the context", nil)
	}
	if ctx.Backup.MaxCount < 1 {
		return faults.NewTypedError(faults.ValidationError, "backup.max-count must be at least 1", nil)
	}
	if _, err := ctx.RetryInterval(); err != nil {
		return err
	}
	if _, err := ctx.RetryCeiling(); err != nil {
		return err
	}

	enc := ctx.Encryption
	sources := 0
	for _, value := range []string{enc.Key, enc.KeyFile, enc.Passphrase, enc.PassphraseFile} {
		if strings.TrimSpace(value) != "" {
			sources++
		}
	}
	if sources == 0 {
		return faults.NewTypedError(faults.ValidationError, "encryption requires key, key-file, passphrase, or passphrase-file", nil)
	}
	if sources > 1 {
		return faults.NewTypedError(faults.ValidationError, "encryption accepts exactly one of key, key-file, passphrase, or passphrase-file", nil)
	}
	return nil
}

func (c *Context) RetryInterval() (time.Duration, error) {
	return parseDuration("retry.interval", c.Retry.Interval)
}

func (c *Context) RetryCeiling() (time.Duration, error) {
	return parseDuration("retry.ceiling", c.Retry.Ceiling)
}

func parseDuration(field string, value string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, faults.NewTypedError(faults.ValidationError, fmt.Sprintf("%s must be a duration", field), err)
	}
	if parsed <= 0 {
		return 0, faults.NewTypedError(faults.ValidationError, fmt.Sprintf("%s must be positive", field), nil)
	}
	return parsed, nil
}

func resolveContextPath(path string) (string, error) {
	candidate := strings.TrimSpace(path)
	if candidate == "" {
		candidate = os.Getenv(ContextFileEnvVar)
	}
	if candidate == "" {
		candidate = DefaultContextPath
	}
	if strings.HasPrefix(candidate, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", faults.NewTypedError(faults.InternalError, "failed to resolve home directory", err)
		}
		candidate = filepath.Join(home, candidate[2:])
	}
	return filepath.Clean(candidate), nil
}

func setSecretsPath(ctx *Context, value string) error {
	ctx.SecretsPath = value
	return nil
}

func setEncryptionKey(ctx *Context, value string) error {
	ctx.Encryption.Key = value
	ctx.Encryption.KeyFile = ""
	ctx.Encryption.Passphrase = ""
	ctx.Encryption.PassphraseFile = ""
	return nil
}

func setEncryptionPassphrase(ctx *Context, value string) error {
	ctx.Encryption.Passphrase = value
	ctx.Encryption.Key = ""
	ctx.Encryption.KeyFile = ""
	ctx.Encryption.PassphraseFile = ""
	return nil
}

func setBackupMaxCount(ctx *Context, value string) error {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return err
	}
	ctx.Backup.MaxCount = parsed
	return nil
}

func setStartupContextPath(ctx *Context, value string) error {
	if ctx.StartupContext == nil {
		ctx.StartupContext = &StartupContextConfig{}
	}
	ctx.StartupContext.Path = value
	return nil
}

func setStartupContextKey(ctx *Context, value string) error {
	if ctx.StartupContext == nil {
		ctx.StartupContext = &StartupContextConfig{}
	}
	ctx.StartupContext.Key = value
	return nil
}
