package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/vulngraph/api/schemas"
)

// Fingerprint hashes the canonical JSON encoding of findings. Timestamps are
// normalized to UTC, so the same instant in different zones hashes equally.
// Order matters: the same findings in a different order are a different batch.
func Fingerprint(findings []schemas.Finding) (string, error) {
	canonical := make([]schemas.Finding, len(findings))
	for i, f := range findings {
		f.Timestamp = f.Timestamp.UTC()
		canonical[i] = f
	}
	b, err := json.ConfigCompatibleWithStandardLibrary.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("failed to encode findings for fingerprint: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
