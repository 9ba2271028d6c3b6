package whatsapp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Credentials is the opaque pairing blob the bridge hands back after a QR
// scan. Persisted as-is between restarts; deleted on explicit logout.
type Credentials struct {
	Blob json.RawMessage `json:"blob"`
}

// IsValid reports whether the blob holds anything to resume with.
func (c *Credentials) IsValid() bool {
	return c != nil && len(c.Blob) > 0
}

// loadCredentials reads the credential file; returns nil when absent or
// unreadable (a fresh pairing will be started).
func loadCredentials(path string) *Credentials {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cred Credentials
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil
	}
	if !cred.IsValid() {
		return nil
	}
	return &cred
}

// saveCredentials writes the credential file with restrictive permissions.
func saveCredentials(path string, cred *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// deleteCredentials removes the credential file. Missing file is fine:
// logout must be idempotent.
func deleteCredentials(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RemoveCredentials deletes the stored pairing credentials without a live
// session. Used by the logout CLI command while the server is down.
func RemoveCredentials(path string) error {
	return deleteCredentials(path)
}
