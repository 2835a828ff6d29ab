package sftp

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"

	"github.com/wharfd/wharfd/internal/logger"
)

const (
	ed25519KeyFile = "host_ed25519.key"
	rsaKeyFile     = "host_rsa.key"
	rsaKeyBits     = 3072
)

// LoadOrGenerateHostKeys returns the server host key signers, generating
// and persisting any key file that does not exist yet under dir. Keys are
// written in OpenSSH PEM format with owner-only permissions.
func LoadOrGenerateHostKeys(dir string) ([]ssh.Signer, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create host key dir %s: %w", dir, err)
	}

	ed, err := loadOrGenerateKey(filepath.Join(dir, ed25519KeyFile), generateEd25519)
	if err != nil {
		return nil, err
	}
	rsaSigner, err := loadOrGenerateKey(filepath.Join(dir, rsaKeyFile), generateRSA)
	if err != nil {
		return nil, err
	}
	return []ssh.Signer{ed, rsaSigner}, nil
}

func loadOrGenerateKey(path string, generate func() (crypto.Signer, error)) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse host key %s: %w", path, err)
		}
		return signer, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read host key %s: %w", path, err)
	}

	key, err := generate()
	if err != nil {
		return nil, fmt.Errorf("generate host key %s: %w", path, err)
	}
	block, err := ssh.MarshalPrivateKey(key, "")
	if err != nil {
		return nil, fmt.Errorf("encode host key %s: %w", path, err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("write host key %s: %w", path, err)
	}

	signer, err := ssh.NewSignerFromSigner(key)
	if err != nil {
		return nil, fmt.Errorf("host key signer %s: %w", path, err)
	}
	logger.Info("generated host key",
		"path", path,
		"type", signer.PublicKey().Type())
	return signer, nil
}

func generateEd25519() (crypto.Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	return priv, err
}

func generateRSA() (crypto.Signer, error) {
	return rsa.GenerateKey(rand.Reader, rsaKeyBits)
}
