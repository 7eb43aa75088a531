package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// GetSecret retrieves a secret value, supporting both direct env vars and file-based secrets
// File-based format: KEY_FILE=/run/secrets/key_name
// Env var format: KEY
func GetSecret(envKey string, defaultValue string) (string, error) {
	// _FILE variant wins (Docker secrets pattern)
	filePathKey := envKey + "_FILE"
	if filePath := os.Getenv(filePathKey); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("read secret file %s: %w", filePath, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if value := os.Getenv(envKey); value != "" {
		return value, nil
	}

	return defaultValue, nil
}

// Loader reads several secrets and collects the failures, so configuration
// can be built in one pass and rejected as a whole
type Loader struct {
	errs []error
}

// Get returns the secret for envKey, or defaultValue when it is unset or
// its file cannot be read. Read failures are reported by Err.
func (l *Loader) Get(envKey, defaultValue string) string {
	value, err := GetSecret(envKey, defaultValue)
	if err != nil {
		l.errs = append(l.errs, err)
		return defaultValue
	}
	return value
}

// Err returns every read failure seen so far
func (l *Loader) Err() error {
	return errors.Join(l.errs...)
}
