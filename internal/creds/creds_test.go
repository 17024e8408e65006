package creds

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeKey(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("key material"), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestResolveUsernamePlaceholders(t *testing.T) {
	dir := t.TempDir()
	writeKey(t, filepath.Join(dir, "alice_id"))

	for _, tmpl := range []string{
		filepath.Join(dir, "%U_id"),
		filepath.Join(dir, "{username}_id"),
	} {
		c, err := Provider{KeyPath: tmpl}.Resolve("alice")
		if err != nil {
			t.Fatalf("resolve %q: %v", tmpl, err)
		}
		if c.PrivateKeyPath != filepath.Join(dir, "alice_id") {
			t.Fatalf("got key path %q", c.PrivateKeyPath)
		}
		if c.CertificatePath != "" {
			t.Fatalf("expected key-only credentials, got cert %q", c.CertificatePath)
		}
	}
}

func TestResolveMissingKey(t *testing.T) {
	dir := t.TempDir()
	_, err := Provider{KeyPath: filepath.Join(dir, "%U_id")}.Resolve("alice")
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
}

func TestResolveWithCertificate(t *testing.T) {
	dir := t.TempDir()
	writeKey(t, filepath.Join(dir, "bob_id"))
	writeKey(t, filepath.Join(dir, "bob_cert"))

	p := Provider{
		KeyPath:  filepath.Join(dir, "%U_id"),
		CertPath: filepath.Join(dir, "%U_cert"),
	}
	c, err := p.Resolve("bob")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.CertificatePath != filepath.Join(dir, "bob_cert") {
		t.Fatalf("got cert path %q", c.CertificatePath)
	}
}

func TestResolveMissingCertificate(t *testing.T) {
	dir := t.TempDir()
	writeKey(t, filepath.Join(dir, "bob_id"))

	p := Provider{
		KeyPath:  filepath.Join(dir, "%U_id"),
		CertPath: filepath.Join(dir, "%U_cert"),
	}
	_, err := p.Resolve("bob")
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
}

func TestResolveEmptyUsername(t *testing.T) {
	if _, err := (Provider{KeyPath: "/tmp/key"}).Resolve(""); err == nil {
		t.Fatal("expected error for empty username")
	}
}
