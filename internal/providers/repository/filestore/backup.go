package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	secretdomain "github.com/crmarques/funcvault/secrets"
)

const backupTimestampLayout = "20060102150405"

// writeBackup copies the current document content to a snapshot file. The
// suffix combines host identity, timestamp, and a random component so
// instances sharing storage never collide.
func (r *FileSecretsRepository) writeBackup(scope secretdomain.ScopeID, current []byte) error {
	name := fmt.Sprintf("%s.%s.%s.%s.%s%s",
		scopeFileName(scope),
		snapshotMarker,
		sanitizeHostName(r.hostNames.CurrentHostName()),
		time.Now().UTC().Format(backupTimestampLayout),
		uuid.NewString()[:8],
		documentExtension,
	)
	path := filepath.Join(r.baseDir, name)
	if err := os.WriteFile(path, current, 0o600); err != nil {
		return internalError("failed to write secrets backup", err)
	}
	r.log.V(1).Info("rotated secrets backup", "scope", scope.String(), "backup", name)
	return nil
}

// enforceBackupQuota runs before a new backup is rotated in. On the healing
// path, snapshots over the maximum with duplicate logical shape indicate a
// heal loop that never converges and fail the write loudly. Mutation writes
// and genuinely distinct states are purged oldest first instead.
func (r *FileSecretsRepository) enforceBackupQuota(scope secretdomain.ScopeID, healed bool) error {
	snapshots, err := r.Snapshots(scope)
	if err != nil {
		return err
	}
	if len(snapshots) < r.maxBackups {
		return nil
	}

	if healed {
		if duplicates := findDuplicateSnapshots(snapshots); len(duplicates) > 0 {
			return quotaError(fmt.Sprintf(
				"secret backups for scope %q exceed the maximum of %d with duplicate content %s; the encryption configuration is likely unable to decrypt existing secrets",
				scope.String(), r.maxBackups, formatFileList(duplicates)))
		}
	}

	for len(snapshots) > r.maxBackups-1 {
		oldest := snapshots[0]
		if err := os.Remove(oldest); err != nil {
			return internalError("failed to purge old secrets backup", err)
		}
		r.log.V(1).Info("purged secrets backup", "scope", scope.String(), "backup", filepath.Base(oldest))
		snapshots = snapshots[1:]
	}
	return nil
}

// findDuplicateSnapshots groups snapshots by logical shape and returns the
// members of the largest group of two or more.
func findDuplicateSnapshots(snapshots []string) []string {
	groups := map[string][]string{}
	for _, path := range snapshots {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		shape := documentShape(data)
		groups[shape] = append(groups[shape], path)
	}

	var duplicates []string
	for _, members := range groups {
		if len(members) >= 2 && len(members) > len(duplicates) {
			duplicates = members
		}
	}
	sort.Strings(duplicates)
	return duplicates
}

// documentShape reduces a secret document to its sorted key-name set plus the
// decryption key id. Healing rewrites change ciphertext on every pass, so
// byte-equality never identifies a heal loop; the name set does. Unparseable
// content falls back to a content hash.
func documentShape(data []byte) string {
	var doc struct {
		MasterKey       *secretdomain.Key  `json:"masterKey"`
		FunctionKeys    []secretdomain.Key `json:"functionKeys"`
		SystemKeys      []secretdomain.Key `json:"systemKeys"`
		Keys            []secretdomain.Key `json:"keys"`
		DecryptionKeyID string             `json:"decryptionKeyId"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		digest := sha256.Sum256(data)
		return "raw:" + hex.EncodeToString(digest[:])
	}

	var names []string
	if doc.MasterKey != nil && doc.MasterKey.Name != "" {
		names = append(names, "master:"+doc.MasterKey.Name)
	}
	for _, key := range doc.FunctionKeys {
		names = append(names, "function:"+key.Name)
	}
	for _, key := range doc.SystemKeys {
		names = append(names, "system:"+key.Name)
	}
	for _, key := range doc.Keys {
		names = append(names, "key:"+key.Name)
	}
	if len(names) == 0 {
		digest := sha256.Sum256(data)
		return "raw:" + hex.EncodeToString(digest[:])
	}
	sort.Strings(names)
	return strings.Join(names, ",") + "|" + doc.DecryptionKeyID
}

func sanitizeHostName(name string) string {
	var builder strings.Builder
	for _, ch := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '-':
			builder.WriteRune(ch)
		default:
			builder.WriteRune('-')
		}
	}
	if builder.Len() == 0 {
		return "unknown-host"
	}
	return builder.String()
}
