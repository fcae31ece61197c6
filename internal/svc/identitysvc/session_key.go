package identitysvc

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mkrupp/escrowgate/internal/domain"
)

// MinSessionKeyBits is the smallest RSA modulus accepted for signing session cookies.
const MinSessionKeyBits = 2048

const (
	pkcs8BlockType = "PRIVATE KEY"
	pkcs1BlockType = "RSA PRIVATE KEY"
)

// NewSessionKey generates an RSA key for signing session cookies.
func NewSessionKey(bits int) (*rsa.PrivateKey, error) {
	if bits < MinSessionKeyBits {
		return nil, fmt.Errorf("%w: %d bits, need at least %d", domain.ErrInvalidSigningKey, bits, MinSessionKeyBits)
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}

	return key, nil
}

// LoadSessionKey reads the session signing key at path. A missing file is replaced
// by a freshly generated key of the given size, so the dev server keeps issuing
// verifiable cookies across restarts.
func LoadSessionKey(path string, bits int) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		return parseSessionKey(raw)
	}

	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read session key: %w", err)
	}

	key, err := NewSessionKey(bits)
	if err != nil {
		return nil, err
	}

	if err := storeSessionKey(path, key); err != nil {
		return nil, err
	}

	return key, nil
}

// parseSessionKey accepts PKCS#8 and the older PKCS#1 encoding.
func parseSessionKey(raw []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", domain.ErrInvalidSigningKey)
	}

	var key *rsa.PrivateKey

	switch block.Type {
	case pkcs8BlockType:
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidSigningKey, err)
		}

		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not an RSA key", domain.ErrInvalidSigningKey, parsed)
		}

		key = rsaKey
	case pkcs1BlockType:
		parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidSigningKey, err)
		}

		key = parsed
	default:
		return nil, fmt.Errorf("%w: unexpected block %q", domain.ErrInvalidSigningKey, block.Type)
	}

	if key.N.BitLen() < MinSessionKeyBits {
		return nil, fmt.Errorf("%w: %d bits", domain.ErrInvalidSigningKey, key.N.BitLen())
	}

	return key, nil
}

// storeSessionKey writes the key through a temp file so a crash never leaves a
// truncated key behind.
func storeSessionKey(path string, key *rsa.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal session key: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session key dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-key-*")
	if err != nil {
		return fmt.Errorf("create session key file: %w", err)
	}
	defer os.Remove(tmp.Name())

	//nolint:exhaustruct
	if err := pem.Encode(tmp, &pem.Block{Type: pkcs8BlockType, Bytes: der}); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("write session key: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session key file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("install session key: %w", err)
	}

	return nil
}
