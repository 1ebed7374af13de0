package session

import (
	"context"
	"sync"

	"github.com/MrCodeEU/faceattend/pkg/camera"
	"github.com/MrCodeEU/faceattend/pkg/notify"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
)

// MockOpener is a mock implementation of camera.Opener.
type MockOpener struct {
	OpenFunc func() (camera.Source, error)
}

func (m *MockOpener) Open() (camera.Source, error) {
	return m.OpenFunc()
}

// MockSource is a mock implementation of camera.Source.
type MockSource struct {
	ReadFunc func() (camera.Frame, error)
	closed   int
}

func (m *MockSource) Read() (camera.Frame, error) {
	return m.ReadFunc()
}

func (m *MockSource) Close() error {
	m.closed++
	return nil
}

// MockEncoder is a mock implementation of camera.Encoder.
type MockEncoder struct {
	EncodeFunc func(frame camera.Frame) ([]byte, error)
}

func (m *MockEncoder) Encode(frame camera.Frame) ([]byte, error) {
	if m.EncodeFunc != nil {
		return m.EncodeFunc(frame)
	}
	return []byte("jpeg"), nil
}

// MockEngine is a mock implementation of recognition.Engine.
type MockEngine struct {
	DetectFacesFunc func(imageData []byte) ([]recognition.Face, error)
}

func (m *MockEngine) DetectFaces(imageData []byte) ([]recognition.Face, error) {
	if m.DetectFacesFunc != nil {
		return m.DetectFacesFunc(imageData)
	}
	return nil, recognition.ErrNoFaceDetected
}

// MockDisplay is a mock implementation of camera.Display.
type MockDisplay struct {
	WaitKeyFunc func() int
	shown       [][]camera.Overlay
	closed      int
}

func (m *MockDisplay) Show(frame camera.Frame, overlays []camera.Overlay) error {
	m.shown = append(m.shown, overlays)
	return nil
}

func (m *MockDisplay) WaitKey() int {
	if m.WaitKeyFunc != nil {
		return m.WaitKeyFunc()
	}
	return -1
}

func (m *MockDisplay) Close() error {
	m.closed++
	return nil
}

// MockRecorder is a mock implementation of attendance.Recorder.
type MockRecorder struct {
	RecordFunc func(name string) error
	names      []string
}

func (m *MockRecorder) Record(name string) error {
	m.names = append(m.names, name)
	if m.RecordFunc != nil {
		return m.RecordFunc(name)
	}
	return nil
}

// MockPublisher is a mock implementation of notify.Publisher.
type MockPublisher struct {
	PublishFunc func(ev notify.Event) error
	mu          sync.Mutex
	events      []notify.Event
}

func (m *MockPublisher) Publish(_ context.Context, ev notify.Event) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	if m.PublishFunc != nil {
		return m.PublishFunc(ev)
	}
	return nil
}

func (m *MockPublisher) Close() {}
