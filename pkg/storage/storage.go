// Package storage persists computed face embeddings between runs so the
// enrollment pass can skip unchanged reference images.
// Embeddings are encrypted at rest using NaCl secretbox.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32

	cacheVersion = 1
)

// CachedEmbedding is the stored descriptor of one reference image.
type CachedEmbedding struct {
	Hash       string                 `json:"sha256"`
	Descriptor recognition.Descriptor `json:"descriptor"`
	EnrolledAt time.Time              `json:"enrolled_at"`
}

type cacheFile struct {
	Version int                        `json:"version"`
	Model   string                     `json:"model"`
	Entries map[string]CachedEmbedding `json:"entries"`
}

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// FileCache is an embedding cache stored in a single file.
type FileCache struct {
	path              string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
	model             string

	mu      sync.Mutex
	entries map[string]CachedEmbedding
	dirty   bool
}

// NewFileCache creates a cache backed by path. Call Load to read existing entries.
func NewFileCache(path string, encryptionEnabled bool) (*FileCache, error) {
	fc := &FileCache{
		path:              path,
		encryptionEnabled: encryptionEnabled,
		entries:           make(map[string]CachedEmbedding),
	}

	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		fc.encryptionKey = key
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return fc, nil
}

// SetModel records the fingerprint of the model that produces descriptors.
// Load discards entries written under a different fingerprint. Call it
// before Load.
func (fc *FileCache) SetModel(model string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.model = model
}

// deriveKey derives an encryption key from machine-specific information.
// This ties the encrypted data to this specific machine and user.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte

	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}

	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}

	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("faceattend-cache-v1")

	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])

	return key, nil
}

// HashContent returns the hex SHA-256 of an image file's bytes.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Load reads the cache file. A missing file leaves the cache empty.
// A file that cannot be decrypted or parsed returns an error and also leaves
// the cache empty, so callers may log and carry on.
func (fc *FileCache) Load() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	fc.entries = make(map[string]CachedEmbedding)

	data, err := os.ReadFile(fc.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cache: %w", err)
	}

	if fc.encryptionEnabled {
		data, err = fc.decrypt(data)
		if err != nil {
			return fmt.Errorf("failed to decrypt cache: %w", err)
		}
	}

	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to unmarshal cache: %w", err)
	}
	if file.Version != cacheVersion {
		logging.Warnf("Ignoring embedding cache with version %d", file.Version)
		fc.dirty = true
		return nil
	}
	if file.Model != fc.model {
		logging.Info("Embedding cache was built with different models, re-enrolling")
		fc.dirty = true
		return nil
	}
	if file.Entries != nil {
		fc.entries = file.Entries
	}

	logging.Debugf("Loaded %d cached embedding(s) from %s", len(fc.entries), fc.path)
	return nil
}

// Lookup returns the cached descriptor for file if its content hash matches.
func (fc *FileCache) Lookup(file, hash string) (recognition.Descriptor, bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	entry, ok := fc.entries[file]
	if !ok || entry.Hash != hash {
		return recognition.Descriptor{}, false
	}
	return entry.Descriptor, true
}

// Put stores the descriptor computed for file.
func (fc *FileCache) Put(file, hash string, descriptor recognition.Descriptor) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	fc.entries[file] = CachedEmbedding{
		Hash:       hash,
		Descriptor: descriptor,
		EnrolledAt: time.Now(),
	}
	fc.dirty = true
}

// Retain drops every entry whose file is not in keep.
func (fc *FileCache) Retain(keep map[string]bool) int {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	removed := 0
	for file := range fc.entries {
		if !keep[file] {
			delete(fc.entries, file)
			removed++
		}
	}
	if removed > 0 {
		fc.dirty = true
	}
	return removed
}

// Len returns the number of cached entries.
func (fc *FileCache) Len() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.entries)
}

// Save writes the cache if it changed since the last Load or Save.
func (fc *FileCache) Save() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if !fc.dirty {
		return nil
	}

	data, err := json.Marshal(cacheFile{Version: cacheVersion, Model: fc.model, Entries: fc.entries})
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	if fc.encryptionEnabled {
		data, err = fc.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt cache: %w", err)
		}
	}

	tmp := fc.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := os.Rename(tmp, fc.path); err != nil {
		return fmt.Errorf("failed to replace cache: %w", err)
	}

	fc.dirty = false
	logging.Debugf("Saved %d cached embedding(s) to %s", len(fc.entries), fc.path)
	return nil
}

// encrypt encrypts data using NaCl secretbox.
func (fc *FileCache) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &fc.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (fc *FileCache) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &fc.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}

	return plaintext, nil
}
