package config

const (
	ContextFileEnvVar  = "FUNCVAULT_CONTEXT_FILE"
	DefaultContextPath = "~/.funcvault/context.yaml"

	DefaultMaxBackupCount = 10
	DefaultRetryInterval  = "100ms"
	DefaultRetryCeiling   = "3s"
)

type Context struct {
	SecretsPath    string                `yaml:"secrets-path"`
	Encryption     Encryption            `yaml:"encryption"`
	Backup         Backup                `yaml:"backup,omitempty"`
	Retry          Retry                 `yaml:"retry,omitempty"`
	StartupContext *StartupContextConfig `yaml:"startup-context,omitempty"`
}

type Encryption struct {
	Key            string   `yaml:"key,omitempty"`
	KeyFile        string   `yaml:"key-file,omitempty"`
	Passphrase     string   `yaml:"passphrase,omitempty"`
	PassphraseFile string   `yaml:"passphrase-file,omitempty"`
	PreviousKeys   []string `yaml:"previous-keys,omitempty"`
	KDF            *KDF     `yaml:"kdf,omitempty"`
}

type KDF struct {
	Salt    string `yaml:"salt,omitempty"`
	Time    uint32 `yaml:"time,omitempty"`
	Memory  uint32 `yaml:"memory,omitempty"`
	Threads uint8  `yaml:"threads,omitempty"`
}

type Backup struct {
	MaxCount int `yaml:"max-count,omitempty"`
}

type Retry struct {
	Interval string `yaml:"interval,omitempty"`
	Ceiling  string `yaml:"ceiling,omitempty"`
}

type StartupContextConfig struct {
	Path string `yaml:"path"`
	Key  string `yaml:"key,omitempty"`
}
