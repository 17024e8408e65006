// Package creds resolves per-user SSH credentials from configured path
// templates. Paths may contain `~` for the orchestrator's home directory
// and `%U` or `{username}` for the session user.
package creds

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrCredentialNotFound indicates the resolved private key (or certificate)
// file could not be read.
var ErrCredentialNotFound = errors.New("credential not found")

// Credentials holds the resolved authentication material for one user.
type Credentials struct {
	Username        string
	PrivateKeyPath  string
	CertificatePath string // empty means key-only authentication
}

// Provider resolves Credentials from path templates. Templates are
// configuration; Provider never caches across users.
type Provider struct {
	// KeyPath is the private key path template. Required.
	KeyPath string
	// CertPath is the certificate path template. Optional.
	CertPath string
}

// Resolve expands the templates for username and verifies the private key
// file exists. A missing key (or a configured but missing certificate)
// yields ErrCredentialNotFound.
func (p Provider) Resolve(username string) (Credentials, error) {
	if strings.TrimSpace(username) == "" {
		return Credentials{}, fmt.Errorf("username is required")
	}
	keyPath, err := expand(p.KeyPath, username)
	if err != nil {
		return Credentials{}, err
	}
	if keyPath == "" {
		return Credentials{}, fmt.Errorf("%w: no key path configured", ErrCredentialNotFound)
	}
	if _, err := os.Stat(keyPath); err != nil {
		return Credentials{}, fmt.Errorf("%w: %s", ErrCredentialNotFound, keyPath)
	}

	c := Credentials{Username: username, PrivateKeyPath: keyPath}

	if strings.TrimSpace(p.CertPath) != "" {
		certPath, err := expand(p.CertPath, username)
		if err != nil {
			return Credentials{}, err
		}
		if _, err := os.Stat(certPath); err != nil {
			return Credentials{}, fmt.Errorf("%w: %s", ErrCredentialNotFound, certPath)
		}
		c.CertificatePath = certPath
	}
	return c, nil
}

func expand(template, username string) (string, error) {
	path := strings.TrimSpace(template)
	if path == "" {
		return "", nil
	}
	path = strings.ReplaceAll(path, "%U", username)
	path = strings.ReplaceAll(path, "{username}", username)
	switch {
	case strings.HasPrefix(path, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	case path == "~":
		return os.UserHomeDir()
	default:
		return path, nil
	}
}
