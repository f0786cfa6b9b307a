// Package vault implements the long-term encrypted store for attachments of
// deleted messages. Artifacts are AES-256-GCM sealed files framed as
// nonce||ciphertext and written via a temp name plus rename, so a partial
// write can never be mistaken for a complete artifact. The vault never
// self-expires; it is the permanent record of deleted content.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/chatkeep/chatkeep/internal/app"
	"github.com/chatkeep/chatkeep/internal/domain"
)

var _ app.MediaVault = (*Vault)(nil)

// Suffix is appended to the source base name to form the artifact name.
const Suffix = ".enc"

const nonceSize = 12

// ErrKeySize rejects construction with anything but a 256-bit key. A
// misconfigured key must never silently run in a degraded mode.
var ErrKeySize = errors.New("vault key must be exactly 32 bytes")

// Vault seals buffer files into an artifact directory.
type Vault struct {
	dir  string
	aead cipher.AEAD
	log  *slog.Logger
}

// New constructs a Vault writing artifacts under dir with the given
// 256-bit key.
func New(dir string, key []byte, logger *slog.Logger) (*Vault, error) {
	if len(key) != 32 {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{dir: dir, aead: aead, log: logger.With("domain", "vault")}, nil
}

// PutFromBuffer seals the file at srcPath into the vault and returns the
// artifact path. An existing artifact short-circuits: re-delivered deletion
// notifications must not re-encrypt or rewrite. A fresh random nonce is
// generated per seal; nonces are never reused for a given key.
func (v *Vault) PutFromBuffer(srcPath string) (string, error) {
	if err := os.MkdirAll(v.dir, 0o700); err != nil {
		return "", fmt.Errorf("create vault dir: %w", err)
	}
	encPath := filepath.Join(v.dir, filepath.Base(srcPath)+Suffix)
	if _, err := os.Stat(encPath); err == nil {
		return encPath, nil
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, data, nil)

	tmp := encPath + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, encPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("publish artifact: %w", err)
	}
	return encPath, nil
}

// OpenForUpload decrypts an artifact into a scoped temp file. The caller
// must Close the returned plaintext when the upload is done, success or
// not. Authentication failure surfaces domain.ErrCorrupted.
func (v *Vault) OpenForUpload(encPath string) (app.Plaintext, error) {
	blob, err := os.ReadFile(encPath)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if len(blob) < nonceSize+v.aead.Overhead() {
		return nil, fmt.Errorf("artifact %s truncated: %w", filepath.Base(encPath), domain.ErrCorrupted)
	}
	data, err := v.aead.Open(nil, blob[:nonceSize], blob[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("artifact %s failed authentication: %w", filepath.Base(encPath), domain.ErrCorrupted)
	}

	tmp := filepath.Join(os.TempDir(), "chatkeep-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return nil, fmt.Errorf("write plaintext scratch: %w", err)
	}
	return &Plaintext{path: tmp}, nil
}

// Plaintext is an ephemeral decrypted copy scoped to one upload.
type Plaintext struct {
	path string
	once sync.Once
	err  error
}

// Path returns the location of the decrypted bytes.
func (p *Plaintext) Path() string { return p.path }

// Close removes the decrypted copy. Safe to call more than once.
func (p *Plaintext) Close() error {
	p.once.Do(func() { p.err = os.Remove(p.path) })
	return p.err
}
