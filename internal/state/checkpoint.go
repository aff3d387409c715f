package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ecrowe/taskforge/pkg/models"
)

// CheckpointCorruptError reports an unusable checkpoint document.
type CheckpointCorruptError struct {
	// ID is the checkpoint that failed to load.
	ID string
	// Reason describes the validation failure.
	Reason string
}

func (e *CheckpointCorruptError) Error() string {
	return fmt.Sprintf("checkpoint %s is corrupt: %s", e.ID, e.Reason)
}

// writeCheckpointDoc persists a checkpoint document as JSON and returns its
// path. The digest is computed over the canonical body with the Digest field
// empty, then stored both in the document and in the index.
func writeCheckpointDoc(dir string, cp *models.Checkpoint) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create checkpoint directory: %w", err)
	}

	cp.Digest = ""
	body, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}
	sum := sha256.Sum256(body)
	cp.Digest = hex.EncodeToString(sum[:])

	doc, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}

	path := filepath.Join(dir, cp.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, doc, 0644); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize checkpoint: %w", err)
	}
	return path, nil
}

// removeFile deletes a checkpoint document, tolerating one already gone.
func removeFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// readCheckpointDoc loads and validates a checkpoint document. Mismatched
// digests and schema versions come back as *CheckpointCorruptError.
func readCheckpointDoc(id, path, wantDigest string) (*models.Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &CheckpointCorruptError{ID: id, Reason: "document missing from disk"}
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, &CheckpointCorruptError{ID: id, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if cp.SchemaVersion != models.CheckpointSchemaVersion {
		return nil, &CheckpointCorruptError{
			ID:     id,
			Reason: fmt.Sprintf("schema version %d, engine expects %d", cp.SchemaVersion, models.CheckpointSchemaVersion),
		}
	}

	digest := cp.Digest
	cp.Digest = ""
	body, err := json.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("remarshal checkpoint: %w", err)
	}
	sum := sha256.Sum256(body)
	computed := hex.EncodeToString(sum[:])
	if computed != digest || (wantDigest != "" && computed != wantDigest) {
		return nil, &CheckpointCorruptError{ID: id, Reason: "digest mismatch"}
	}
	cp.Digest = digest
	return &cp, nil
}
