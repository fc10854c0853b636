package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecret returns the value of name, honouring the name_FILE
// convention: when name_FILE is set its file content wins, trimmed of
// surrounding whitespace. Neither set yields "".
func ResolveSecret(name string) (string, error) {
	fileVar := name + "_FILE"
	path := os.Getenv(fileVar)
	if path == "" {
		return os.Getenv(name), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret %s=%s: %w", fileVar, path, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// ResolveSecretOr is ResolveSecret with a fallback for the empty value.
func ResolveSecretOr(name, fallback string) (string, error) {
	v, err := ResolveSecret(name)
	if err != nil {
		return "", err
	}
	if v == "" {
		return fallback, nil
	}
	return v, nil
}
