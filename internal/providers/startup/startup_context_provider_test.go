package startup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
)

func sealBlob(t *testing.T, key []byte, payload string) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("gcm: %v", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		t.Fatalf("nonce: %v", err)
	}
	sealed := gcm.Seal(nil, nonce, []byte(payload), nil)

	blob, err := json.Marshal(encryptedBlob{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		t.Fatalf("marshal blob: %v", err)
	}
	return blob
}

func testBlobKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("key: %v", err)
	}
	return key
}

func TestTakeSnapshotDecryptsBlobOnce(t *testing.T) {
	t.Parallel()

	key := testBlobKey(t)
	payload := `{
		"secrets": {
			"host": {
				"master": "master-value",
				"function": [{"name": "Key1", "value": "HostValue1"}],
				"system": [{"name": "Sys1", "value": "SysValue1"}]
			},
			"function": [{"name": "HttpTrigger", "secrets": {"default": "fn-value"}}]
		}
	}`
	path := filepath.Join(t.TempDir(), "startup.json")
	if err := os.WriteFile(path, sealBlob(t, key, payload), 0o600); err != nil {
		t.Fatalf("write blob: %v", err)
	}

	provider := NewEncryptedBlobProvider(path, key, logr.Discard())

	snapshot, ok := provider.TakeSnapshot()
	if !ok || snapshot == nil {
		t.Fatalf("expected a snapshot on first call")
	}
	if snapshot.Host == nil || snapshot.Host.MasterKey != "master-value" {
		t.Fatalf("unexpected host snapshot: %+v", snapshot.Host)
	}
	if snapshot.Host.FunctionKeys["Key1"] != "HostValue1" {
		t.Fatalf("unexpected host function keys: %+v", snapshot.Host.FunctionKeys)
	}
	if snapshot.Host.SystemKeys["Sys1"] != "SysValue1" {
		t.Fatalf("unexpected host system keys: %+v", snapshot.Host.SystemKeys)
	}
	if snapshot.Functions["httptrigger"]["default"] != "fn-value" {
		t.Fatalf("unexpected function snapshot: %+v", snapshot.Functions)
	}

	if _, ok := provider.TakeSnapshot(); ok {
		t.Fatalf("snapshot must be consumable at most once")
	}
}

func TestTakeSnapshotMissingBlob(t *testing.T) {
	t.Parallel()

	provider := NewEncryptedBlobProvider(filepath.Join(t.TempDir(), "absent.json"), testBlobKey(t), logr.Discard())
	if _, ok := provider.TakeSnapshot(); ok {
		t.Fatalf("missing blob must yield no snapshot")
	}
}

func TestTakeSnapshotWrongKey(t *testing.T) {
	t.Parallel()

	key := testBlobKey(t)
	path := filepath.Join(t.TempDir(), "startup.json")
	if err := os.WriteFile(path, sealBlob(t, key, `{"secrets":{}}`), 0o600); err != nil {
		t.Fatalf("write blob: %v", err)
	}

	provider := NewEncryptedBlobProvider(path, testBlobKey(t), logr.Discard())
	if _, ok := provider.TakeSnapshot(); ok {
		t.Fatalf("undecipherable blob must yield no snapshot")
	}
}

func TestDisabledProvider(t *testing.T) {
	t.Parallel()

	if _, ok := Disabled().TakeSnapshot(); ok {
		t.Fatalf("disabled provider must never yield a snapshot")
	}
}
