// Package recognition provides face detection and embedding extraction.
// It uses dlib through go-face; everything above this package only sees the
// narrow Engine interface.
package recognition

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/MrCodeEU/faceattend/pkg/logging"
)

// Face is one detected face with its embedding.
type Face struct {
	BoundingBox Rectangle
	Descriptor  Descriptor
}

// Rectangle is a bounding box in pixel coordinates.
type Rectangle struct {
	X, Y          int
	Width, Height int
}

// Top returns the y coordinate of the upper edge.
func (r Rectangle) Top() int { return r.Y }

// Right returns the x coordinate of the right edge.
func (r Rectangle) Right() int { return r.X + r.Width }

// Bottom returns the y coordinate of the lower edge.
func (r Rectangle) Bottom() int { return r.Y + r.Height }

// Left returns the x coordinate of the left edge.
func (r Rectangle) Left() int { return r.X }

// Image converts the box to an image.Rectangle.
func (r Rectangle) Image() image.Rectangle {
	return image.Rect(r.Left(), r.Top(), r.Right(), r.Bottom())
}

// RectangleFrom converts an image.Rectangle to a Rectangle.
func RectangleFrom(rect image.Rectangle) Rectangle {
	return Rectangle{
		X:      rect.Min.X,
		Y:      rect.Min.Y,
		Width:  rect.Dx(),
		Height: rect.Dy(),
	}
}

// Descriptor is a 128-dimensional face descriptor from dlib.
type Descriptor = face.Descriptor

// Engine detects faces in an encoded image and computes one embedding per face.
type Engine interface {
	DetectFaces(imageData []byte) ([]Face, error)
}

// FaceEngine is the subset of go-face used by DlibRecognizer.
type FaceEngine interface {
	Recognize(data []byte) ([]face.Face, error)
	RecognizeCNN(data []byte) ([]face.Face, error)
	Close()
}

// EngineFactory creates a FaceEngine from a model directory.
type EngineFactory func(modelPath string) (FaceEngine, error)

// ErrNoFaceDetected is returned when no face is found in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// ModelFiles lists the dlib model files expected in the model directory.
var ModelFiles = []string{
	"shape_predictor_5_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
	"mmod_human_face_detector.dat",
}

func newGoFaceEngine(modelPath string) (FaceEngine, error) {
	rec, err := face.NewRecognizer(modelPath)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DlibRecognizer implements Engine using dlib via go-face.
type DlibRecognizer struct {
	rec     FaceEngine
	factory EngineFactory
	loaded  bool
	useCNN  bool
	mu      sync.RWMutex
}

// NewRecognizer creates a new DlibRecognizer instance.
func NewRecognizer() *DlibRecognizer {
	return &DlibRecognizer{
		factory: newGoFaceEngine,
	}
}

// SetUseCNN switches detection to the dlib CNN (mmod) detector.
// It is slower but finds faces at more angles.
func (r *DlibRecognizer) SetUseCNN(useCNN bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.useCNN = useCNN
}

// LoadModels loads the dlib face recognition models from modelPath.
func (r *DlibRecognizer) LoadModels(modelPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return nil
	}

	logging.Infof("Loading face recognition models from: %s", modelPath)

	rec, err := r.factory(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	r.rec = rec
	r.loaded = true

	logging.Info("Face recognition models loaded successfully")
	return nil
}

// ModelFingerprint identifies the detector mode and model files in use.
// Descriptors computed under different fingerprints must not be mixed.
//
// It hashes the detector mode together with the name, size and
// modification time of every model file under modelPath.
func ModelFingerprint(modelPath string, useCNN bool) string {
	h := sha256.New()
	fmt.Fprintf(h, "cnn=%t\n", useCNN)
	for _, name := range ModelFiles {
		info, err := os.Stat(filepath.Join(modelPath, name))
		if err != nil {
			fmt.Fprintf(h, "%s:missing\n", name)
			continue
		}
		fmt.Fprintf(h, "%s:%d:%d\n", name, info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IsLoaded returns true if models are loaded.
func (r *DlibRecognizer) IsLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Close releases the recognizer resources.
func (r *DlibRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rec != nil {
		r.rec.Close()
		r.rec = nil
	}
	r.loaded = false
	return nil
}

// DetectFaces detects all faces in a JPEG image and returns them in
// detector order. It returns ErrNoFaceDetected when the image has no face.
func (r *DlibRecognizer) DetectFaces(imageData []byte) ([]Face, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.loaded {
		return nil, ErrModelNotLoaded
	}

	var (
		faces []face.Face
		err   error
	)
	if r.useCNN {
		faces, err = r.rec.RecognizeCNN(imageData)
	} else {
		faces, err = r.rec.Recognize(imageData)
	}
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	if len(faces) == 0 {
		return nil, ErrNoFaceDetected
	}

	result := make([]Face, len(faces))
	for i, f := range faces {
		result[i] = Face{
			BoundingBox: RectangleFrom(f.Rectangle),
			Descriptor:  f.Descriptor,
		}
	}

	logging.Debugf("Detected %d face(s) in image", len(result))
	return result, nil
}

// FirstFace returns the first face the engine reports for an image.
// Additional faces are ignored.
func FirstFace(engine Engine, imageData []byte) (*Face, error) {
	faces, err := engine.DetectFaces(imageData)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, ErrNoFaceDetected
	}
	return &faces[0], nil
}
