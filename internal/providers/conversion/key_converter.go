package conversion

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/crmarques/funcvault/config"
	"github.com/crmarques/funcvault/faults"
	secretdomain "github.com/crmarques/funcvault/secrets"
)

const (
	keyLengthBytes   = 32
	nonceLengthBytes = 12
	keyIDLengthBytes = 8

	defaultKDFTime    = 3
	defaultKDFMemory  = 64 * 1024
	defaultKDFThreads = 4

	// valueSeparator splits the key-version tag from the ciphertext in the
	// persisted value: "<keyID>.<base64(nonce||ciphertext)>".
	valueSeparator = "."
)

var _ secretdomain.ConverterFactory = (*DefaultConverterFactory)(nil)

// DefaultConverterFactory hands out key readers and writers backed by
// AES-256-GCM. The current encryption key produces all new ciphertext;
// retained previous keys decrypt older values, marking them stale so the
// manager re-encrypts them.
type DefaultConverterFactory struct {
	current  encryptionKey
	previous map[string]cipher.AEAD
}

type encryptionKey struct {
	id   string
	aead cipher.AEAD
}

func NewDefaultConverterFactory(cfg *config.Encryption) (*DefaultConverterFactory, error) {
	if cfg == nil {
		return nil, validationError("encryption configuration is required", nil)
	}

	keyBytes, err := resolveKeyMaterial(cfg)
	if err != nil {
		return nil, err
	}
	current, err := newEncryptionKey(keyBytes)
	if err != nil {
		return nil, err
	}

	previous := make(map[string]cipher.AEAD, len(cfg.PreviousKeys))
	for idx, encoded := range cfg.PreviousKeys {
		raw, err := decodeRawKey(encoded)
		if err != nil {
			return nil, validationError(fmt.Sprintf("invalid previous key at index %d", idx), err)
		}
		prior, err := newEncryptionKey(raw)
		if err != nil {
			return nil, err
		}
		if prior.id == current.id {
			continue
		}
		previous[prior.id] = prior.aead
	}

	return &DefaultConverterFactory{current: current, previous: previous}, nil
}

// ReaderFor selects a reader per key so legacy plaintext values and versioned
// ciphertext share one pipeline.
func (f *DefaultConverterFactory) ReaderFor(key secretdomain.Key) secretdomain.KeyReader {
	if !key.Encrypted {
		return plaintextKeyReader{}
	}
	return versionedKeyReader{factory: f}
}

func (f *DefaultConverterFactory) Writer() secretdomain.KeyWriter {
	return versionedKeyWriter{factory: f}
}

func (f *DefaultConverterFactory) CurrentKeyID() string {
	return f.current.id
}

// plaintextKeyReader handles keys persisted before encryption-at-rest was
// enabled. The value passes through untouched but is flagged stale so it gets
// rewritten in encrypted form.
type plaintextKeyReader struct{}

func (plaintextKeyReader) ReadValue(key secretdomain.Key) (secretdomain.Key, error) {
	key.Stale = true
	return key, nil
}

type versionedKeyReader struct {
	factory *DefaultConverterFactory
}

func (r versionedKeyReader) ReadValue(key secretdomain.Key) (secretdomain.Key, error) {
	keyID, payload, ok := strings.Cut(key.Value, valueSeparator)
	if !ok || keyID == "" {
		return secretdomain.Key{}, decryptionError(fmt.Sprintf("key %q has no version tag", key.Name), nil)
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return secretdomain.Key{}, decryptionError(fmt.Sprintf("key %q ciphertext is not base64", key.Name), err)
	}
	if len(raw) < nonceLengthBytes {
		return secretdomain.Key{}, decryptionError(fmt.Sprintf("key %q ciphertext is truncated", key.Name), nil)
	}

	aead, stale, err := r.factory.aeadForVersion(keyID, key.Name)
	if err != nil {
		return secretdomain.Key{}, err
	}

	nonce, ciphertext := raw[:nonceLengthBytes], raw[nonceLengthBytes:]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return secretdomain.Key{}, decryptionError(fmt.Sprintf("failed to decrypt key %q", key.Name), err)
	}

	key.Value = string(plain)
	key.Encrypted = false
	key.Stale = stale
	return key, nil
}

type versionedKeyWriter struct {
	factory *DefaultConverterFactory
}

func (w versionedKeyWriter) WriteValue(key secretdomain.Key) (secretdomain.Key, error) {
	nonce := make([]byte, nonceLengthBytes)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return secretdomain.Key{}, internalError("failed to generate nonce", err)
	}

	ciphertext := w.factory.current.aead.Seal(nil, nonce, []byte(key.Value), nil)
	sealed := append(nonce, ciphertext...)

	key.Value = w.factory.current.id + valueSeparator + base64.StdEncoding.EncodeToString(sealed)
	key.Encrypted = true
	key.Stale = false
	return key, nil
}

func (f *DefaultConverterFactory) aeadForVersion(keyID string, keyName string) (cipher.AEAD, bool, error) {
	if keyID == f.current.id {
		return f.current.aead, false, nil
	}
	if aead, ok := f.previous[keyID]; ok {
		return aead, true, nil
	}
	return nil, false, decryptionError(fmt.Sprintf("key %q was encrypted with unknown key version %s", keyName, keyID), nil)
}

func newEncryptionKey(raw []byte) (encryptionKey, error) {
	block, err := aes.NewCipher(raw)
	if err != nil {
		return encryptionKey{}, internalError("failed to build cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return encryptionKey{}, internalError("failed to build GCM", err)
	}
	digest := sha256.Sum256(raw)
	return encryptionKey{
		id:   hex.EncodeToString(digest[:keyIDLengthBytes]),
		aead: aead,
	}, nil
}

func resolveKeyMaterial(cfg *config.Encryption) ([]byte, error) {
	key := strings.TrimSpace(cfg.Key)
	passphrase := strings.TrimSpace(cfg.Passphrase)

	if file := strings.TrimSpace(cfg.KeyFile); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, internalError("failed to read encryption key file", err)
		}
		key = strings.TrimSpace(string(data))
	}
	if file := strings.TrimSpace(cfg.PassphraseFile); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, internalError("failed to read encryption passphrase file", err)
		}
		passphrase = strings.TrimSpace(string(data))
	}

	switch {
	case key != "" && passphrase != "":
		return nil, validationError("provide either an encryption key or a passphrase, not both", nil)
	case key != "":
		return decodeRawKey(key)
	case passphrase != "":
		return deriveKeyFromPassphrase(passphrase, cfg.KDF)
	default:
		return nil, validationError("encryption key material is required", nil)
	}
}

func decodeRawKey(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, validationError("failed to decode base64 encryption key", err)
	}
	if len(raw) != keyLengthBytes {
		return nil, validationError(fmt.Sprintf("encryption key must be %d bytes after base64 decoding", keyLengthBytes), nil)
	}
	return raw, nil
}

func deriveKeyFromPassphrase(passphrase string, kdf *config.KDF) ([]byte, error) {
	if kdf == nil || strings.TrimSpace(kdf.Salt) == "" {
		return nil, validationError("encryption.kdf.salt is required when using a passphrase", nil)
	}
	salt, err := base64.StdEncoding.DecodeString(strings.TrimSpace(kdf.Salt))
	if err != nil {
		return nil, validationError("failed to decode KDF salt", err)
	}

	time := kdf.Time
	if time == 0 {
		time = defaultKDFTime
	}
	memory := kdf.Memory
	if memory == 0 {
		memory = defaultKDFMemory
	}
	threads := kdf.Threads
	if threads == 0 {
		threads = defaultThreads()
	}

	return argon2.IDKey([]byte(passphrase), salt, time, memory, threads, keyLengthBytes), nil
}

func defaultThreads() uint8 {
	threads := runtime.NumCPU()
	if threads < 1 {
		threads = 1
	}
	if threads > defaultKDFThreads {
		threads = defaultKDFThreads
	}
	return uint8(threads)
}

func validationError(message string, cause error) error {
	return faults.NewTypedError(faults.ValidationError, message, cause)
}

func decryptionError(message string, cause error) error {
	return faults.NewTypedError(faults.DecryptionError, message, cause)
}

func internalError(message string, cause error) error {
	return faults.NewTypedError(faults.InternalError, message, cause)
}
