// Package fingerprint derives and tracks the one-way identity hash
// described in spec §3 ("Fingerprint"): hex SHA-256 over stable
// configuration fields XORed with the vault salt hash, persisted and
// compared across boots.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Status reports how the computed fingerprint compares to the persisted one.
type Status string

const (
	StatusCreated  Status = "created"
	StatusVerified Status = "verified"
	StatusChanged  Status = "changed"
)

// StableFields are the configuration values that participate in the
// fingerprint. Changing any of these between boots flips Status to
// "changed". Field selection mirrors the original Python's stable
// identity inputs: workspace path, default provider/model, gateway host.
type StableFields struct {
	Workspace       string
	DefaultProvider string
	DefaultModel    string
	GatewayHost     string
}

// Result is the outcome of a Compute call.
type Result struct {
	Hex    string `json:"hex"`
	Status Status `json:"status"`
}

const fingerprintFile = "fingerprint.json"

type persisted struct {
	Hex string `json:"hex"`
}

// Compute derives the fingerprint from fields and saltHash, compares it to
// whatever is on disk under dir, persists it if this is the first boot or
// if it changed, and returns the comparison status.
func Compute(dir string, fields StableFields, saltHash []byte) (*Result, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("fingerprint: mkdir: %w", err)
	}

	sum := hash(fields, saltHash)

	path := filepath.Join(dir, fingerprintFile)
	existing, err := load(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if errors.Is(err, os.ErrNotExist) {
		if werr := save(path, sum); werr != nil {
			return nil, werr
		}
		return &Result{Hex: sum, Status: StatusCreated}, nil
	}

	if existing == sum {
		return &Result{Hex: sum, Status: StatusVerified}, nil
	}

	if werr := save(path, sum); werr != nil {
		return nil, werr
	}
	return &Result{Hex: sum, Status: StatusChanged}, nil
}

func hash(fields StableFields, saltHash []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", fields.Workspace, fields.DefaultProvider, fields.DefaultModel, fields.GatewayHost)
	configSum := h.Sum(nil)

	out := make([]byte, len(configSum))
	for i := range out {
		var s byte
		if len(saltHash) > 0 {
			s = saltHash[i%len(saltHash)]
		}
		out[i] = configSum[i] ^ s
	}
	final := sha256.Sum256(out)
	return hex.EncodeToString(final[:])
}

func load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return "", err
	}
	return p.Hex, nil
}

func save(path, hex string) error {
	data, err := json.Marshal(persisted{Hex: hex})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
