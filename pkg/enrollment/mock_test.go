package enrollment

import (
	"github.com/MrCodeEU/faceattend/pkg/recognition"
)

// MockEngine is a mock implementation of recognition.Engine.
type MockEngine struct {
	DetectFacesFunc func(imageData []byte) ([]recognition.Face, error)
	calls           int
}

func (m *MockEngine) DetectFaces(imageData []byte) ([]recognition.Face, error) {
	m.calls++
	if m.DetectFacesFunc != nil {
		return m.DetectFacesFunc(imageData)
	}
	return nil, recognition.ErrNoFaceDetected
}

// MockDecoder is a mock implementation of Decoder.
type MockDecoder struct {
	DecodeFunc func(data []byte) ([]byte, error)
}

func (m *MockDecoder) Decode(data []byte) ([]byte, error) {
	if m.DecodeFunc != nil {
		return m.DecodeFunc(data)
	}
	return data, nil
}

// MockCache is an in-memory Cache.
type MockCache struct {
	entries map[string]cacheEntry
	SaveErr error
	saves   int
}

type cacheEntry struct {
	hash string
	desc recognition.Descriptor
}

func NewMockCache() *MockCache {
	return &MockCache{entries: make(map[string]cacheEntry)}
}

func (m *MockCache) Lookup(file, hash string) (recognition.Descriptor, bool) {
	e, ok := m.entries[file]
	if !ok || e.hash != hash {
		return recognition.Descriptor{}, false
	}
	return e.desc, true
}

func (m *MockCache) Put(file, hash string, d recognition.Descriptor) {
	m.entries[file] = cacheEntry{hash: hash, desc: d}
}

func (m *MockCache) Retain(keep map[string]bool) int {
	n := 0
	for f := range m.entries {
		if !keep[f] {
			delete(m.entries, f)
			n++
		}
	}
	return n
}

func (m *MockCache) Save() error {
	m.saves++
	return m.SaveErr
}
