package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/deepnoodle-ai/reflow"
)

// Fingerprint generates a deterministic hash of a work item's fully resolved
// inputs. Two work items with identical resolved inputs produce identical
// fingerprints regardless of when or where they are computed. Execution
// options, run identity, and timestamps never participate.
func Fingerprint(item *reflow.WorkItem) (string, error) {
	if err := item.Validate(); err != nil {
		return "", err
	}

	// json.Marshal sorts map keys, giving a normalized representation
	jsonData, err := json.Marshal(item.Inputs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal inputs: %w", err)
	}

	hash := sha256.Sum256(jsonData)
	return fmt.Sprintf("%x", hash), nil
}
