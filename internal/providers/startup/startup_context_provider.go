package startup

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	secretdomain "github.com/crmarques/funcvault/secrets"
)

// EncryptedBlobProvider yields the pre-computed secret set the hosting
// process handed over at cold start: an AES-256-GCM-encrypted JSON blob
// decrypted with a runtime-supplied symmetric key. The snapshot is consumed
// at most once per process lifetime.
type EncryptedBlobProvider struct {
	path string
	key  []byte
	log  logr.Logger

	once     sync.Once
	mu       sync.Mutex
	snapshot *secretdomain.StartupSecrets
}

var _ secretdomain.StartupContextProvider = (*EncryptedBlobProvider)(nil)

// encryptedBlob mirrors the on-disk envelope of the startup context file.
type encryptedBlob struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type startupPayload struct {
	Secrets struct {
		Host *struct {
			Master   string            `json:"master"`
			Function []startupNamedKey `json:"function"`
			System   []startupNamedKey `json:"system"`
		} `json:"host"`
		Function []struct {
			Name    string            `json:"name"`
			Secrets map[string]string `json:"secrets"`
		} `json:"function"`
	} `json:"secrets"`
}

type startupNamedKey struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func NewEncryptedBlobProvider(path string, key []byte, log logr.Logger) *EncryptedBlobProvider {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &EncryptedBlobProvider{path: path, key: key, log: log}
}

// Disabled returns a provider that never yields a snapshot.
func Disabled() *EncryptedBlobProvider {
	return &EncryptedBlobProvider{log: logr.Discard()}
}

// TakeSnapshot decrypts and returns the startup secret set on the first
// call; later calls report false. A missing or undecipherable blob is not
// fatal; the caller falls back to the repository.
func (p *EncryptedBlobProvider) TakeSnapshot() (*secretdomain.StartupSecrets, bool) {
	p.once.Do(func() {
		p.snapshot = p.load()
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot := p.snapshot
	p.snapshot = nil
	if snapshot == nil {
		return nil, false
	}
	return snapshot, true
}

func (p *EncryptedBlobProvider) load() *secretdomain.StartupSecrets {
	if strings.TrimSpace(p.path) == "" || len(p.key) == 0 {
		return nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			p.log.Error(err, "failed to read startup context blob", "path", p.path)
		}
		return nil
	}

	plain, err := p.decrypt(data)
	if err != nil {
		p.log.Error(err, "failed to decrypt startup context blob", "path", p.path)
		return nil
	}

	var payload startupPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		p.log.Error(err, "failed to parse startup context payload", "path", p.path)
		return nil
	}

	snapshot := &secretdomain.StartupSecrets{
		Functions: map[string]map[string]string{},
	}
	if host := payload.Secrets.Host; host != nil {
		info := secretdomain.HostSecretsInfo{
			MasterKey:    host.Master,
			FunctionKeys: namedKeysToMap(host.Function),
			SystemKeys:   namedKeysToMap(host.System),
		}
		snapshot.Host = &info
	}
	for _, function := range payload.Secrets.Function {
		name := strings.ToLower(strings.TrimSpace(function.Name))
		if name == "" || function.Secrets == nil {
			continue
		}
		snapshot.Functions[name] = function.Secrets
	}

	if snapshot.Host == nil && len(snapshot.Functions) == 0 {
		return nil
	}
	p.log.V(1).Info("loaded startup context secrets",
		"host", snapshot.Host != nil, "functions", len(snapshot.Functions))
	return snapshot
}

func (p *EncryptedBlobProvider) decrypt(data []byte) ([]byte, error) {
	var blob encryptedBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, err
	}
	nonce, err := base64.StdEncoding.DecodeString(blob.Nonce)
	if err != nil {
		return nil, err
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob.Ciphertext)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(p.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func namedKeysToMap(keys []startupNamedKey) map[string]string {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		if key.Name == "" {
			continue
		}
		out[key.Name] = key.Value
	}
	return out
}
