package recognition

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Kagami/go-face"
)

func loadedRecognizer(t *testing.T, engine *MockFaceEngine) *DlibRecognizer {
	t.Helper()
	r := NewRecognizer()
	r.factory = func(path string) (FaceEngine, error) {
		return engine, nil
	}
	if err := r.LoadModels("dummy"); err != nil {
		t.Fatalf("LoadModels failed: %v", err)
	}
	return r
}

func TestNewRecognizer(t *testing.T) {
	rec := NewRecognizer()
	if rec == nil {
		t.Fatal("NewRecognizer returned nil")
	}
	if rec.IsLoaded() {
		t.Error("expected IsLoaded to be false initially")
	}
	if rec.factory == nil {
		t.Error("expected default engine factory")
	}
}

func TestLoadModels(t *testing.T) {
	r := NewRecognizer()
	calls := 0
	r.factory = func(path string) (FaceEngine, error) {
		calls++
		if path != "/tmp/models" {
			t.Errorf("unexpected model path %s", path)
		}
		return &MockFaceEngine{}, nil
	}

	if err := r.LoadModels("/tmp/models"); err != nil {
		t.Errorf("LoadModels failed: %v", err)
	}
	if !r.IsLoaded() {
		t.Error("Expected loaded to be true")
	}

	// Second load is a no-op.
	if err := r.LoadModels("/tmp/models"); err != nil {
		t.Errorf("LoadModels failed on second call: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected factory to be called once, got %d", calls)
	}
}

func TestLoadModels_Failure(t *testing.T) {
	r := NewRecognizer()
	r.factory = func(path string) (FaceEngine, error) {
		return nil, errors.New("load failed")
	}

	if err := r.LoadModels("/tmp/models"); err == nil {
		t.Error("Expected LoadModels to fail")
	}
	if r.IsLoaded() {
		t.Error("Expected loaded to be false")
	}
}

func TestDetectFaces(t *testing.T) {
	r := loadedRecognizer(t, &MockFaceEngine{
		RecognizeFunc: func(data []byte) ([]face.Face, error) {
			return []face.Face{
				{
					Rectangle:  image.Rect(10, 20, 110, 140),
					Descriptor: face.Descriptor{1, 2, 3},
				},
				{
					Rectangle:  image.Rect(200, 20, 260, 80),
					Descriptor: face.Descriptor{4, 5, 6},
				},
			}, nil
		},
	})

	faces, err := r.DetectFaces([]byte("image"))
	if err != nil {
		t.Fatalf("DetectFaces failed: %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("Expected 2 faces, got %d", len(faces))
	}

	box := faces[0].BoundingBox
	if box.Top() != 20 || box.Right() != 110 || box.Bottom() != 140 || box.Left() != 10 {
		t.Errorf("unexpected box (t,r,b,l) = (%d,%d,%d,%d)", box.Top(), box.Right(), box.Bottom(), box.Left())
	}
	if faces[1].Descriptor[0] != 4 {
		t.Errorf("faces out of detector order: %v", faces[1].Descriptor[:3])
	}
}

func TestDetectFaces_CNN(t *testing.T) {
	usedCNN := false
	r := loadedRecognizer(t, &MockFaceEngine{
		RecognizeFunc: func(data []byte) ([]face.Face, error) {
			t.Error("HOG detector should not be used")
			return nil, nil
		},
		RecognizeCNNFunc: func(data []byte) ([]face.Face, error) {
			usedCNN = true
			return []face.Face{{Rectangle: image.Rect(0, 0, 50, 50)}}, nil
		},
	})
	r.SetUseCNN(true)

	if _, err := r.DetectFaces([]byte("image")); err != nil {
		t.Fatalf("DetectFaces failed: %v", err)
	}
	if !usedCNN {
		t.Error("expected CNN detector to be used")
	}
}

func TestDetectFaces_NotLoaded(t *testing.T) {
	r := NewRecognizer()
	_, err := r.DetectFaces([]byte("image"))
	if !errors.Is(err, ErrModelNotLoaded) {
		t.Errorf("Expected ErrModelNotLoaded, got %v", err)
	}
}

func TestDetectFaces_NoFace(t *testing.T) {
	r := loadedRecognizer(t, &MockFaceEngine{
		RecognizeFunc: func(data []byte) ([]face.Face, error) {
			return []face.Face{}, nil
		},
	})

	_, err := r.DetectFaces([]byte("image"))
	if !errors.Is(err, ErrNoFaceDetected) {
		t.Errorf("Expected ErrNoFaceDetected, got %v", err)
	}
}

func TestDetectFaces_Error(t *testing.T) {
	engineErr := errors.New("engine error")
	r := loadedRecognizer(t, &MockFaceEngine{
		RecognizeFunc: func(data []byte) ([]face.Face, error) {
			return nil, engineErr
		},
	})

	_, err := r.DetectFaces([]byte("image"))
	if !errors.Is(err, engineErr) {
		t.Errorf("Expected wrapped engine error, got %v", err)
	}
}

func TestFirstFace(t *testing.T) {
	r := loadedRecognizer(t, &MockFaceEngine{
		RecognizeFunc: func(data []byte) ([]face.Face, error) {
			return []face.Face{
				{Rectangle: image.Rect(0, 0, 100, 100), Descriptor: face.Descriptor{7}},
				{Rectangle: image.Rect(100, 100, 200, 200), Descriptor: face.Descriptor{9}},
			}, nil
		},
	})

	f, err := FirstFace(r, []byte("image"))
	if err != nil {
		t.Fatalf("FirstFace failed: %v", err)
	}
	if f.Descriptor[0] != 7 {
		t.Errorf("expected first detected face, got descriptor %v", f.Descriptor[0])
	}
}

func TestClose(t *testing.T) {
	closed := false
	r := loadedRecognizer(t, &MockFaceEngine{
		CloseFunc: func() { closed = true },
	})

	if err := r.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if !closed {
		t.Error("Expected engine to be closed")
	}
	if r.IsLoaded() {
		t.Error("Expected loaded to be false")
	}
}

func TestRectangleImage(t *testing.T) {
	rect := image.Rect(5, 6, 25, 36)
	if got := RectangleFrom(rect).Image(); got != rect {
		t.Errorf("round trip changed rectangle: %v != %v", got, rect)
	}
}

func TestModelFingerprint(t *testing.T) {
	dir := t.TempDir()
	for _, name := range ModelFiles {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("model"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	hog := ModelFingerprint(dir, false)
	if hog != ModelFingerprint(dir, false) {
		t.Error("fingerprint is not deterministic")
	}
	if hog == ModelFingerprint(dir, true) {
		t.Error("detector mode should change the fingerprint")
	}

	path := filepath.Join(dir, ModelFiles[1])
	if err := os.WriteFile(path, []byte("retrained model"), 0644); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	if hog == ModelFingerprint(dir, false) {
		t.Error("replacing a model file should change the fingerprint")
	}
}
