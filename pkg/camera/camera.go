// Package camera defines frames, capture sources and preview displays used by
// the recognition loop. Implementations backed by OpenCV live in package cv.
package camera

import (
	"errors"
	"fmt"
	"image"
	"time"
)

// Frame represents a single camera frame.
type Frame struct {
	Data      []byte // packed pixel rows
	Width     int
	Height    int
	Channels  int
	Depth     int    // bits per channel
	Format    string // "BGR", "RGB", "GRAY"
	Timestamp time.Time
	Seq       uint64
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return len(f.Data) == 0 || f.Width <= 0 || f.Height <= 0
}

// Validate checks that the frame is an 8-bit, 3-channel image whose buffer
// matches its dimensions.
func (f Frame) Validate() error {
	if f.Empty() {
		return fmt.Errorf("%w: empty frame", ErrInvalidFrame)
	}
	if f.Channels != 3 {
		return fmt.Errorf("%w: expected 3 channels, got %d", ErrInvalidFrame, f.Channels)
	}
	if f.Depth != 8 {
		return fmt.Errorf("%w: expected 8-bit depth, got %d", ErrInvalidFrame, f.Depth)
	}
	if want := f.Width * f.Height * f.Channels; len(f.Data) != want {
		return fmt.Errorf("%w: buffer is %d bytes, want %d", ErrInvalidFrame, len(f.Data), want)
	}
	return nil
}

// Source produces frames from an open device.
type Source interface {
	Read() (Frame, error)
	Close() error
}

// Opener opens a capture device. Each call yields an independent Source.
type Opener interface {
	Open() (Source, error)
}

// Encoder converts a raw frame into the image bytes the recognizer accepts.
type Encoder interface {
	Encode(frame Frame) ([]byte, error)
}

// Overlay is one annotation drawn over a frame.
type Overlay struct {
	Box   image.Rectangle
	Label string
	Known bool
}

// Display shows annotated frames and reports key presses.
type Display interface {
	Show(frame Frame, overlays []Overlay) error
	// WaitKey polls the keyboard briefly and returns the pressed key, or -1.
	WaitKey() int
	Close() error
}

// ErrCameraUnavailable is returned when the camera device cannot be opened.
var ErrCameraUnavailable = errors.New("camera unavailable")

// ErrCameraLost is returned when reads keep failing on an open camera.
var ErrCameraLost = errors.New("camera stopped delivering frames")

// ErrNoFrame is returned when no frame could be captured.
var ErrNoFrame = errors.New("failed to capture frame")

// ErrInvalidFrame is returned for frames with an unexpected layout.
var ErrInvalidFrame = errors.New("invalid frame")

// ErrUndecodable is returned when image bytes cannot be decoded.
var ErrUndecodable = errors.New("image could not be decoded")
