package tokenstore

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const keyLen = 32

// vault key derivation context
var vaultInfo = []byte("apphub refresh vault v1")

// Vault persists the refresh credential encrypted at rest. The sealing key is
// derived from a random per-install keyfile, so the vault file alone is opaque.
type Vault struct {
	dir string
}

// NewVault creates a vault rooted at dir (created on first write).
func NewVault(dir string) *Vault { return &Vault{dir: dir} }

func (v *Vault) keyPath() string   { return filepath.Join(v.dir, "vault.key") }
func (v *Vault) tokenPath() string { return filepath.Join(v.dir, "refresh.bin") }

// Load returns the stored refresh credential, or "" if none is stored.
// A corrupted vault is an error, not an empty result.
func (v *Vault) Load() (string, error) {
	blob, err := os.ReadFile(v.tokenPath())
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	key, err := v.loadKey()
	if err != nil {
		return "", err
	}
	pt, err := open(key, blob)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Store seals the refresh credential and writes it with owner-only permissions.
func (v *Vault) Store(refresh string) error {
	if err := os.MkdirAll(v.dir, 0o700); err != nil {
		return err
	}
	key, err := v.loadOrCreateKey()
	if err != nil {
		return err
	}
	blob, err := seal(key, []byte(refresh))
	if err != nil {
		return err
	}
	return os.WriteFile(v.tokenPath(), blob, 0o600)
}

// Clear removes the stored refresh credential. The keyfile is kept.
func (v *Vault) Clear() error {
	err := os.Remove(v.tokenPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (v *Vault) loadKey() ([]byte, error) {
	raw, err := os.ReadFile(v.keyPath())
	if err != nil {
		return nil, err
	}
	return deriveKey(raw)
}

func (v *Vault) loadOrCreateKey() ([]byte, error) {
	raw, err := os.ReadFile(v.keyPath())
	if errors.Is(err, os.ErrNotExist) {
		raw = make([]byte, keyLen)
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		if err := os.WriteFile(v.keyPath(), raw, 0o600); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return deriveKey(raw)
}

// deriveKey stretches the keyfile secret via HKDF-SHA256 with a fixed context,
// so the on-disk secret is never used directly as an AEAD key.
func deriveKey(secret []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, vaultInfo)
	key := make([]byte, keyLen)
	if _, err := r.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// seal encrypts with XChaCha20-Poly1305, nonce prefixed to the ciphertext.
func seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, nil)...)
	return out, nil
}

func open(key, blob []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("vault blob too short")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	ct := blob[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, nil)
}
