package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrCodeEU/faceattend/pkg/recognition"
)

func TestNewFileCache(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name       string
		path       string
		encryption bool
	}{
		{
			name:       "without encryption",
			path:       filepath.Join(tmpDir, "plain", "cache.json"),
			encryption: false,
		},
		{
			name:       "with encryption",
			path:       filepath.Join(tmpDir, "enc", "cache.enc"),
			encryption: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc, err := NewFileCache(tt.path, tt.encryption)
			if err != nil {
				t.Fatalf("NewFileCache() error = %v", err)
			}
			if fc == nil {
				t.Fatal("NewFileCache returned nil")
			}
			if _, err := os.Stat(filepath.Dir(tt.path)); os.IsNotExist(err) {
				t.Error("cache directory was not created")
			}
		})
	}
}

func TestFileCache_LoadMissing(t *testing.T) {
	fc, err := NewFileCache(filepath.Join(t.TempDir(), "cache.enc"), true)
	if err != nil {
		t.Fatal(err)
	}
	if err := fc.Load(); err != nil {
		t.Errorf("Load of missing file should succeed, got %v", err)
	}
	if fc.Len() != 0 {
		t.Errorf("expected empty cache, got %d", fc.Len())
	}
}

func TestFileCache_RoundTrip(t *testing.T) {
	for _, encryption := range []bool{false, true} {
		name := "plain"
		if encryption {
			name = "encrypted"
		}
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cache")
			fc, err := NewFileCache(path, encryption)
			if err != nil {
				t.Fatal(err)
			}

			desc := recognition.Descriptor{0.25, -0.5, 1}
			fc.Put("alice.jpg", "hash-a", desc)
			if err := fc.Save(); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			reopened, err := NewFileCache(path, encryption)
			if err != nil {
				t.Fatal(err)
			}
			if err := reopened.Load(); err != nil {
				t.Fatalf("Load failed: %v", err)
			}

			got, ok := reopened.Lookup("alice.jpg", "hash-a")
			if !ok {
				t.Fatal("expected cache hit")
			}
			if got != desc {
				t.Errorf("descriptor mismatch: got %v", got[:3])
			}

			if _, ok := reopened.Lookup("alice.jpg", "hash-b"); ok {
				t.Error("expected miss when content hash changed")
			}
			if _, ok := reopened.Lookup("bob.jpg", "hash-a"); ok {
				t.Error("expected miss for unknown file")
			}
		})
	}
}

func TestFileCache_EncryptedOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.enc")
	fc, err := NewFileCache(path, true)
	if err != nil {
		t.Fatal(err)
	}
	fc.Put("alice.jpg", "hash-a", recognition.Descriptor{1})
	if err := fc.Save(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte("alice.jpg")) {
		t.Error("encrypted cache contains plaintext file name")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected cache mode 0600, got %v", info.Mode().Perm())
	}
}

func TestFileCache_Corrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.enc")
	if err := os.WriteFile(path, []byte("short"), 0600); err != nil {
		t.Fatal(err)
	}

	fc, err := NewFileCache(path, true)
	if err != nil {
		t.Fatal(err)
	}
	err = fc.Load()
	if !errors.Is(err, ErrEncryption) {
		t.Errorf("expected ErrEncryption, got %v", err)
	}
	if fc.Len() != 0 {
		t.Errorf("expected empty cache after failed load, got %d", fc.Len())
	}
}

func TestFileCache_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	fc, err := NewFileCache(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := fc.Load(); err == nil {
		t.Error("expected error for invalid cache content")
	}
}

func TestFileCache_Retain(t *testing.T) {
	fc, err := NewFileCache(filepath.Join(t.TempDir(), "cache.json"), false)
	if err != nil {
		t.Fatal(err)
	}
	fc.Put("alice.jpg", "a", recognition.Descriptor{})
	fc.Put("bob.jpg", "b", recognition.Descriptor{})
	fc.Put("carol.jpg", "c", recognition.Descriptor{})

	removed := fc.Retain(map[string]bool{"alice.jpg": true, "carol.jpg": true})
	if removed != 1 {
		t.Errorf("expected 1 removed entry, got %d", removed)
	}
	if fc.Len() != 2 {
		t.Errorf("expected 2 remaining entries, got %d", fc.Len())
	}
	if _, ok := fc.Lookup("bob.jpg", "b"); ok {
		t.Error("bob.jpg should have been pruned")
	}
}

func TestFileCache_SaveSkipsWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	fc, err := NewFileCache(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := fc.Save(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("clean cache should not be written")
	}
}

func TestHashContent(t *testing.T) {
	a := HashContent([]byte("image-a"))
	b := HashContent([]byte("image-b"))
	if a == b {
		t.Error("different content should hash differently")
	}
	if len(a) != 64 {
		t.Errorf("expected hex sha256, got %q", a)
	}
	if a != HashContent([]byte("image-a")) {
		t.Error("hash is not deterministic")
	}
}

func TestEncryptDecrypt(t *testing.T) {
	fc, err := NewFileCache(filepath.Join(t.TempDir(), "cache.enc"), true)
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte(`{"version":1}`)
	ciphertext, err := fc.encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if len(ciphertext) <= NonceSize {
		t.Fatal("ciphertext too short")
	}

	decrypted, err := fc.decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("round trip mismatch: %s", decrypted)
	}

	ciphertext[len(ciphertext)-1] ^= 0xFF
	if _, err := fc.decrypt(ciphertext); !errors.Is(err, ErrEncryption) {
		t.Errorf("expected ErrEncryption for tampered data, got %v", err)
	}
}

func TestFileCache_ModelChangeDiscardsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.enc")

	fc, err := NewFileCache(path, true)
	if err != nil {
		t.Fatal(err)
	}
	fc.SetModel("hog")
	fc.Put("alice.jpg", "hash-a", recognition.Descriptor{1})
	if err := fc.Save(); err != nil {
		t.Fatal(err)
	}

	same, err := NewFileCache(path, true)
	if err != nil {
		t.Fatal(err)
	}
	same.SetModel("hog")
	if err := same.Load(); err != nil {
		t.Fatal(err)
	}
	if _, ok := same.Lookup("alice.jpg", "hash-a"); !ok {
		t.Error("expected hit under the same model")
	}

	cnn, err := NewFileCache(path, true)
	if err != nil {
		t.Fatal(err)
	}
	cnn.SetModel("cnn")
	if err := cnn.Load(); err != nil {
		t.Fatal(err)
	}
	if _, ok := cnn.Lookup("alice.jpg", "hash-a"); ok {
		t.Error("descriptor from another model was reused")
	}
	if cnn.Len() != 0 {
		t.Errorf("expected empty cache, got %d", cnn.Len())
	}

	// The discarded cache is rewritten under the new model on save.
	if err := cnn.Save(); err != nil {
		t.Fatal(err)
	}
	reread, err := NewFileCache(path, true)
	if err != nil {
		t.Fatal(err)
	}
	reread.SetModel("hog")
	if err := reread.Load(); err != nil {
		t.Fatal(err)
	}
	if reread.Len() != 0 {
		t.Error("old model entries survived the rewrite")
	}
}
