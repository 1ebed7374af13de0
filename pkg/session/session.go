// Package session runs the live recognition loop: it reads camera frames,
// matches every detected face against the roster, records attendance for
// accepted matches and shows an annotated preview.
package session

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/camera"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/notify"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/roster"
)

// DefaultStopKey ends the session when pressed in the preview window.
const DefaultStopKey = "q"

// Options tune the loop.
type Options struct {
	Tolerance float64
	// MaxReadFailures is the number of consecutive failed reads after which
	// the camera is considered lost. Zero retries forever.
	MaxReadFailures int
	ReadRetryDelay  time.Duration
	StopKey         string
}

// DefaultOptions returns the defaults used by the CLI.
func DefaultOptions() Options {
	return Options{
		Tolerance:       recognition.DefaultTolerance,
		MaxReadFailures: 100,
		ReadRetryDelay:  20 * time.Millisecond,
		StopKey:         DefaultStopKey,
	}
}

// Stats summarizes a finished run.
type Stats struct {
	FramesRead      int
	FramesProcessed int
	FramesSkipped   int
	ReadFailures    int
	FacesDetected   int
	Recognized      int
	Records         int
}

// HighGUI windows must be created, pumped and destroyed on one OS thread.
var (
	lockOSThread   = runtime.LockOSThread
	unlockOSThread = runtime.UnlockOSThread
)

// DisplayFunc opens the preview display. It is called from the goroutine
// running the session.
type DisplayFunc func() (camera.Display, error)

// Session is one recognition run. It owns the camera while Run executes.
type Session struct {
	id        string
	opts      Options
	opener    camera.Opener
	encoder   camera.Encoder
	engine    recognition.Engine
	roster    *roster.Roster
	recorder  attendance.Recorder
	display   DisplayFunc
	publisher notify.Publisher
	now       func() time.Time
	log       *logrus.Entry
}

// Option configures optional collaborators.
type Option func(*Session)

// WithDisplay shows annotated frames and watches for the stop key.
func WithDisplay(fn DisplayFunc) Option {
	return func(s *Session) { s.display = fn }
}

// WithPublisher sends an event for every accepted match.
func WithPublisher(p notify.Publisher) Option {
	return func(s *Session) { s.publisher = p }
}

// New creates a session with a fresh ID.
func New(opener camera.Opener, encoder camera.Encoder, engine recognition.Engine,
	r *roster.Roster, recorder attendance.Recorder, opts Options, options ...Option) *Session {

	if opts.StopKey == "" {
		opts.StopKey = DefaultStopKey
	}

	s := &Session{
		id:       uuid.NewString(),
		opts:     opts,
		opener:   opener,
		encoder:  encoder,
		engine:   engine,
		roster:   r,
		recorder: recorder,
		now:      time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	s.log = logging.Component("session").WithField("session_id", s.id)
	return s
}

// ID returns the session identifier carried in logs and events.
func (s *Session) ID() string {
	return s.id
}

// match is one detected face and its roster resolution.
type match struct {
	face   recognition.Face
	result recognition.MatchResult
}

// Run blocks until ctx is cancelled, the stop key is pressed, the camera is
// lost, or an attendance write fails. Cancellation and the stop key end the
// run without error. With a display configured, Run pins its goroutine to the
// current OS thread until it returns.
func (s *Session) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	if s.display != nil {
		lockOSThread()
		defer unlockOSThread()
	}

	src, err := s.opener.Open()
	if err != nil {
		if !errors.Is(err, camera.ErrCameraUnavailable) {
			err = fmt.Errorf("%w: %v", camera.ErrCameraUnavailable, err)
		}
		s.log.WithError(err).Error("Could not access the webcam")
		return stats, err
	}
	defer func() {
		if err := src.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to close camera")
		}
	}()

	var display camera.Display
	if s.display != nil {
		display, err = s.display()
		if err != nil {
			s.log.WithError(err).Warn("Preview window unavailable, running headless")
			display = nil
		} else {
			defer func() {
				if err := display.Close(); err != nil {
					s.log.WithError(err).Warn("Failed to close preview window")
				}
			}()
		}
	}

	s.log.WithFields(logging.Fields{
		"roster":    s.roster.Len(),
		"tolerance": s.opts.Tolerance,
	}).Info("Recognition started")
	defer func() {
		s.log.WithFields(logging.Fields{
			"frames":     stats.FramesRead,
			"processed":  stats.FramesProcessed,
			"recognized": stats.Recognized,
			"records":    stats.Records,
		}).Info("Recognition stopped")
	}()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return stats, nil
		default:
		}

		frame, err := src.Read()
		if err == nil && frame.Empty() {
			err = camera.ErrNoFrame
		}
		if err != nil {
			failures++
			stats.ReadFailures++
			s.log.WithError(err).Debugf("Frame read failed (%d consecutive)", failures)
			if s.opts.MaxReadFailures > 0 && failures >= s.opts.MaxReadFailures {
				return stats, fmt.Errorf("%w after %d consecutive failed reads", camera.ErrCameraLost, failures)
			}
			if !sleep(ctx, s.opts.ReadRetryDelay) {
				return stats, nil
			}
			continue
		}
		failures = 0
		stats.FramesRead++

		matches, err := s.process(frame)
		if err != nil {
			stats.FramesSkipped++
			s.log.WithError(err).WithField("seq", frame.Seq).Warn("Skipping frame")
		} else {
			stats.FramesProcessed++
			stats.FacesDetected += len(matches)
		}

		for _, m := range matches {
			if !m.result.Matched {
				continue
			}
			stats.Recognized++
			if err := s.recorder.Record(m.result.Name); err != nil {
				return stats, fmt.Errorf("failed to record attendance for %s: %w", m.result.Name, err)
			}
			stats.Records++
			s.publish(ctx, m)
		}

		if display != nil {
			if err := display.Show(frame, overlays(matches)); err != nil {
				s.log.WithError(err).Debug("Failed to show frame")
			}
			if isStopKey(display.WaitKey(), s.opts.StopKey) {
				s.log.Info("Stop key pressed")
				return stats, nil
			}
		}
	}
}

// process validates, encodes and recognizes one frame. Panics raised by the
// native libraries are returned as errors.
func (s *Session) process(frame camera.Frame) (matches []match, err error) {
	defer func() {
		if r := recover(); r != nil {
			matches = nil
			err = fmt.Errorf("panic while processing frame: %v", r)
		}
	}()

	if err := frame.Validate(); err != nil {
		return nil, err
	}

	img, err := s.encoder.Encode(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	faces, err := s.engine.DetectFaces(img)
	if err != nil {
		if errors.Is(err, recognition.ErrNoFaceDetected) {
			return nil, nil
		}
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	matches = make([]match, 0, len(faces))
	for _, f := range faces {
		res := s.roster.Match(f.Descriptor, s.opts.Tolerance)
		if logging.IsDebug() {
			s.log.WithFields(logging.Fields{
				"name":     res.Name,
				"distance": res.Distance,
				"matched":  res.Matched,
			}).Debug("Face resolved")
		}
		matches = append(matches, match{face: f, result: res})
	}
	return matches, nil
}

func (s *Session) publish(ctx context.Context, m match) {
	if s.publisher == nil {
		return
	}
	box := m.face.BoundingBox
	ev := notify.Event{
		SessionID: s.id,
		Name:      m.result.Name,
		Distance:  m.result.Distance,
		Timestamp: s.now(),
		Box: notify.Box{
			Top:    box.Top(),
			Right:  box.Right(),
			Bottom: box.Bottom(),
			Left:   box.Left(),
		},
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.WithError(err).Warn("Failed to publish recognition event")
	}
}

func overlays(matches []match) []camera.Overlay {
	out := make([]camera.Overlay, 0, len(matches))
	for _, m := range matches {
		out = append(out, camera.Overlay{
			Box:   m.face.BoundingBox.Image(),
			Label: m.result.Name,
			Known: m.result.Matched,
		})
	}
	return out
}

func isStopKey(key int, stop string) bool {
	if key < 0 || stop == "" {
		return false
	}
	return key&0xFF == int(stop[0])
}

// sleep waits for d or until ctx is done. It reports false if ctx ended.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
