// Package cv implements the camera interfaces on top of OpenCV (gocv).
package cv

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/camera"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"gocv.io/x/gocv"
)

var (
	knownColor   = color.RGBA{G: 255, A: 0}
	unknownColor = color.RGBA{R: 255, A: 0}
	labelColor   = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// Device opens a webcam by index or a device path / stream URL.
type Device struct {
	ID     string
	Width  int
	Height int
	FPS    int
}

// Open implements camera.Opener.
func (d Device) Open() (camera.Source, error) {
	var id interface{} = d.ID
	if n, err := strconv.Atoi(d.ID); err == nil {
		id = n
	}

	vc, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", camera.ErrCameraUnavailable, d.ID, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: %s", camera.ErrCameraUnavailable, d.ID)
	}

	if d.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(d.Width))
	}
	if d.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(d.Height))
	}
	if d.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(d.FPS))
	}

	logging.WithFields(logging.Fields{
		"device": d.ID,
		"width":  vc.Get(gocv.VideoCaptureFrameWidth),
		"height": vc.Get(gocv.VideoCaptureFrameHeight),
	}).Debug("Camera opened")

	return &capture{vc: vc, mat: gocv.NewMat()}, nil
}

type capture struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
	seq uint64
}

func (c *capture) Read() (camera.Frame, error) {
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return camera.Frame{}, camera.ErrNoFrame
	}
	return frameFromMat(c.mat, atomic.AddUint64(&c.seq, 1)), nil
}

func (c *capture) Close() error {
	c.mat.Close()
	return c.vc.Close()
}

func frameFromMat(m gocv.Mat, seq uint64) camera.Frame {
	format := "BGR"
	if m.Channels() == 1 {
		format = "GRAY"
	}
	return camera.Frame{
		Data:      m.ToBytes(),
		Width:     m.Cols(),
		Height:    m.Rows(),
		Channels:  m.Channels(),
		Depth:     depthBits(m.Type()),
		Format:    format,
		Timestamp: time.Now(),
		Seq:       seq,
	}
}

// depthBits maps the OpenCV element depth to bits per channel.
func depthBits(t gocv.MatType) int {
	switch t & 7 {
	case gocv.MatTypeCV8U, gocv.MatTypeCV8S:
		return 8
	case gocv.MatTypeCV16U, gocv.MatTypeCV16S:
		return 16
	case gocv.MatTypeCV32S, gocv.MatTypeCV32F:
		return 32
	case gocv.MatTypeCV64F:
		return 64
	}
	return 0
}

func matFromFrame(f camera.Frame) (gocv.Mat, error) {
	if err := f.Validate(); err != nil {
		return gocv.Mat{}, err
	}
	return gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
}

// JPEGEncoder encodes BGR frames as JPEG for the recognizer.
type JPEGEncoder struct{}

// Encode implements camera.Encoder.
func (JPEGEncoder) Encode(f camera.Frame) ([]byte, error) {
	m, err := matFromFrame(f)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// ImageDecoder decodes reference images read from disk.
type ImageDecoder struct{}

// Decode decodes data as a color image and returns it JPEG-encoded.
func (ImageDecoder) Decode(data []byte) ([]byte, error) {
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", camera.ErrUndecodable, err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, camera.ErrUndecodable
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", camera.ErrUndecodable, err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// Window is an OpenCV preview window. It must be used from a single goroutine.
type Window struct {
	w *gocv.Window
}

// NewWindow opens a preview window titled title.
func NewWindow(title string) *Window {
	return &Window{w: gocv.NewWindow(title)}
}

// Show draws overlays onto a copy of the frame and displays it.
func (w *Window) Show(f camera.Frame, overlays []camera.Overlay) error {
	m, err := matFromFrame(f)
	if err != nil {
		return err
	}
	defer m.Close()

	for _, o := range overlays {
		box := knownColor
		if !o.Known {
			box = unknownColor
		}
		gocv.Rectangle(&m, o.Box, box, 2)
		gocv.PutText(&m, o.Label, image.Pt(o.Box.Min.X, o.Box.Min.Y-10),
			gocv.FontHersheySimplex, 0.9, labelColor, 2)
	}

	w.w.IMShow(m)
	return nil
}

// WaitKey implements camera.Display.
func (w *Window) WaitKey() int {
	return w.w.WaitKey(1)
}

// Close implements camera.Display.
func (w *Window) Close() error {
	return w.w.Close()
}
