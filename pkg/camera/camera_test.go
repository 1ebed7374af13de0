package camera

import (
	"errors"
	"testing"
)

func TestFrameValidate(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		wantErr bool
	}{
		{
			name:  "valid BGR frame",
			frame: Frame{Data: make([]byte, 4*2*3), Width: 4, Height: 2, Channels: 3, Depth: 8},
		},
		{
			name:    "empty data",
			frame:   Frame{Width: 4, Height: 2, Channels: 3, Depth: 8},
			wantErr: true,
		},
		{
			name:    "grayscale",
			frame:   Frame{Data: make([]byte, 8), Width: 4, Height: 2, Channels: 1, Depth: 8},
			wantErr: true,
		},
		{
			name:    "16-bit depth",
			frame:   Frame{Data: make([]byte, 24), Width: 4, Height: 2, Channels: 3, Depth: 16},
			wantErr: true,
		},
		{
			name:    "truncated buffer",
			frame:   Frame{Data: make([]byte, 20), Width: 4, Height: 2, Channels: 3, Depth: 8},
			wantErr: true,
		},
		{
			name:    "zero width",
			frame:   Frame{Data: make([]byte, 24), Width: 0, Height: 2, Channels: 3, Depth: 8},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidFrame) {
					t.Errorf("expected ErrInvalidFrame, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestFrameEmpty(t *testing.T) {
	if !(Frame{}).Empty() {
		t.Error("zero frame should be empty")
	}
	if (Frame{Data: []byte{1, 2, 3}, Width: 1, Height: 1}).Empty() {
		t.Error("1x1 frame should not be empty")
	}
}
