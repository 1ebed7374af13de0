package cv

import (
	"errors"
	"testing"

	"github.com/MrCodeEU/faceattend/pkg/camera"
	"gocv.io/x/gocv"
)

func testFrame(w, h int) camera.Frame {
	data := make([]byte, w*h*3)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return camera.Frame{Data: data, Width: w, Height: h, Channels: 3, Depth: 8, Format: "BGR"}
}

func TestDepthBits(t *testing.T) {
	tests := []struct {
		in   gocv.MatType
		want int
	}{
		{gocv.MatTypeCV8UC3, 8},
		{gocv.MatTypeCV8UC1, 8},
		{gocv.MatTypeCV16UC3, 16},
		{gocv.MatTypeCV32FC3, 32},
		{gocv.MatTypeCV64FC1, 64},
	}
	for _, tt := range tests {
		if got := depthBits(tt.in); got != tt.want {
			t.Errorf("depthBits(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestJPEGEncoder_RoundTrip(t *testing.T) {
	jpg, err := JPEGEncoder{}.Encode(testFrame(16, 8))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(jpg) < 2 || jpg[0] != 0xFF || jpg[1] != 0xD8 {
		t.Fatal("output is not a JPEG")
	}

	if _, err := (ImageDecoder{}).Decode(jpg); err != nil {
		t.Errorf("Decode of encoded frame failed: %v", err)
	}
}

func TestJPEGEncoder_InvalidFrame(t *testing.T) {
	f := testFrame(16, 8)
	f.Data = f.Data[:10]
	if _, err := (JPEGEncoder{}).Encode(f); !errors.Is(err, camera.ErrInvalidFrame) {
		t.Errorf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestImageDecoder_Garbage(t *testing.T) {
	if _, err := (ImageDecoder{}).Decode([]byte("not an image")); !errors.Is(err, camera.ErrUndecodable) {
		t.Errorf("expected ErrUndecodable, got %v", err)
	}
}

func TestFrameFromMat(t *testing.T) {
	m, err := matFromFrame(testFrame(4, 2))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	f := frameFromMat(m, 7)
	if err := f.Validate(); err != nil {
		t.Errorf("converted frame is invalid: %v", err)
	}
	if f.Width != 4 || f.Height != 2 || f.Seq != 7 || f.Format != "BGR" {
		t.Errorf("unexpected frame %+v", f)
	}
}
