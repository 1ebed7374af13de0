package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/schollz/progressbar/v3"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/camera"
	"github.com/MrCodeEU/faceattend/pkg/camera/cv"
	"github.com/MrCodeEU/faceattend/pkg/enrollment"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/notify"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/roster"
	"github.com/MrCodeEU/faceattend/pkg/session"
	"github.com/MrCodeEU/faceattend/pkg/storage"
)

func printHowTo(w io.Writer) {
	fmt.Fprintln(w, "How to use:")
	fmt.Fprintf(w, "  1. Add images to the '%s' folder.\n", cfg.Enrollment.Dir)
	fmt.Fprintln(w, "  2. Name each image with the person's name (e.g. samarth1.jpg).")
	fmt.Fprintln(w, "  3. Start recognition.")
	fmt.Fprintf(w, "  4. Press '%s' in the camera window to stop.\n", cfg.Display.StopKey)
	fmt.Fprintf(w, "Attendance is appended to '%s'.\n", cfg.Attendance.File)
}

// loadRecognizer loads the dlib models.
func loadRecognizer() (*recognition.DlibRecognizer, error) {
	rec := recognition.NewRecognizer()
	rec.SetUseCNN(cfg.Recognition.UseCNN)
	if err := rec.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return nil, fmt.Errorf("%w (run 'faceattend download-models' first)", err)
	}
	return rec, nil
}

// openCache returns the embedding cache, or nil when disabled or unusable.
func openCache() *storage.FileCache {
	if !cfg.Storage.CacheEnabled {
		return nil
	}
	fc, err := storage.NewFileCache(cfg.CachePath(), cfg.Storage.EncryptionEnabled)
	if err != nil {
		logging.WithError(err).Warn("Embedding cache disabled")
		return nil
	}
	fc.SetModel(recognition.ModelFingerprint(cfg.Recognition.ModelPath, cfg.Recognition.UseCNN))
	if err := fc.Load(); err != nil {
		logging.WithError(err).Warn("Ignoring unreadable embedding cache")
	}
	return fc
}

// enroll builds the roster from the known faces folder.
func enroll(engine recognition.Engine, dir string) (*roster.Roster, enrollment.Report, error) {
	var bar *progressbar.ProgressBar
	opts := []enrollment.Option{
		enrollment.WithProgress(func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("Enrolling known faces"),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
			}
			_ = bar.Set(done)
		}),
	}
	if fc := openCache(); fc != nil {
		opts = append(opts, enrollment.WithCache(fc))
	}

	loader := enrollment.NewLoader(engine, cv.ImageDecoder{}, opts...)
	r, report, err := loader.Load(dir)
	if bar != nil {
		_ = bar.Finish()
	}
	return r, report, err
}

// prepare loads the models and enrolls the known faces. The caller closes
// the returned recognizer.
func prepare() (*recognition.DlibRecognizer, *roster.Roster, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}

	rec, err := loadRecognizer()
	if err != nil {
		return nil, nil, err
	}

	r, report, err := enroll(rec, cfg.Enrollment.Dir)
	if err != nil {
		rec.Close()
		return nil, nil, err
	}
	if r.Len() == 0 {
		logging.Warnf("No faces enrolled from %s, every face will be labelled %s", report.Dir, recognition.UnknownName)
	}
	return rec, r, nil
}

// sessionStarter enrolls once through build and returns a start function
// that runs every session against that roster.
func sessionStarter(build func() (*roster.Roster, error),
	run func(ctx context.Context, r *roster.Roster) error) (func(ctx context.Context) error, error) {

	r, err := build()
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return run(ctx, r)
	}, nil
}

// recognize runs one recognition session against r until ctx is cancelled,
// the stop key is pressed or the camera fails.
func recognize(ctx context.Context, engine recognition.Engine, r *roster.Roster) error {
	var recorder attendance.Recorder = attendance.NewLogger(cfg.Attendance.File)
	if cfg.Attendance.Cooldown > 0 {
		recorder = attendance.NewThrottle(recorder, cfg.Attendance.Cooldown)
	}

	publisher, err := notify.New(cfg.Notify.MQTT)
	if err != nil {
		logging.WithError(err).Warn("MQTT publishing disabled")
		publisher = notify.Nop{}
	}
	defer publisher.Close()

	opts := session.Options{
		Tolerance:       cfg.Recognition.Tolerance,
		MaxReadFailures: cfg.Camera.MaxReadFailures,
		ReadRetryDelay:  cfg.Camera.ReadRetryDelay,
		StopKey:         cfg.Display.StopKey,
	}
	sessionOpts := []session.Option{session.WithPublisher(publisher)}
	if cfg.Display.Enabled {
		title := cfg.Display.WindowTitle
		sessionOpts = append(sessionOpts, session.WithDisplay(func() (camera.Display, error) {
			return cv.NewWindow(title), nil
		}))
	}

	device := cv.Device{
		ID:     cfg.Camera.Device,
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
		FPS:    cfg.Camera.FPS,
	}
	s := session.New(device, cv.JPEGEncoder{}, engine, r, recorder, opts, sessionOpts...)

	stats, err := s.Run(ctx)
	logging.WithFields(logging.Fields{
		"session_id": s.ID(),
		"frames":     stats.FramesRead,
		"skipped":    stats.FramesSkipped,
		"faces":      stats.FacesDetected,
		"records":    stats.Records,
	}).Debug("Session summary")
	return err
}

func cmdStart(args []string) error {
	ctx, stop := signalContext()
	defer stop()

	rec, r, err := prepare()
	if err != nil {
		return err
	}
	defer rec.Close()

	fmt.Printf("Starting recognition. Press '%s' in the camera window or Ctrl-C to stop.\n", cfg.Display.StopKey)
	if err := recognize(ctx, rec, r); err != nil {
		return err
	}
	fmt.Println("Recognition stopped.")
	return nil
}

func cmdMenu(args []string) error {
	ctx, stop := signalContext()
	defer stop()

	var rec *recognition.DlibRecognizer
	defer func() {
		if rec != nil {
			rec.Close()
		}
	}()

	start, err := sessionStarter(
		func() (*roster.Roster, error) {
			var r *roster.Roster
			var err error
			rec, r, err = prepare()
			return r, err
		},
		func(ctx context.Context, r *roster.Roster) error {
			return recognize(ctx, rec, r)
		},
	)
	if err != nil {
		return err
	}
	return newMenu(os.Stdin, os.Stdout, start).run(ctx)
}

func cmdEnroll(args []string) error {
	dir := cfg.Enrollment.Dir
	if len(args) > 0 {
		dir = args[0]
	}

	rec, err := loadRecognizer()
	if err != nil {
		return err
	}
	defer rec.Close()

	_, report, err := enroll(rec, dir)
	if err != nil {
		return err
	}

	fmt.Printf("Enrollment of '%s':\n", report.Dir)
	for _, res := range report.Results {
		if res.Outcome.Enrolled() {
			fmt.Printf("  + %-30s %s (%s)\n", res.File, res.Name, res.Outcome)
		} else {
			fmt.Printf("  - %-30s skipped: %s\n", res.File, res.Outcome)
		}
	}
	fmt.Printf("\nEnrolled: %d, skipped: %d\n", report.Enrolled(), report.Skipped())
	return nil
}

func cmdList(args []string) error {
	dir := cfg.Enrollment.Dir
	if len(args) > 0 {
		dir = args[0]
	}

	rec, err := loadRecognizer()
	if err != nil {
		return err
	}
	defer rec.Close()

	r, _, err := enroll(rec, dir)
	if err != nil {
		return err
	}

	if r.Len() == 0 {
		fmt.Println("No faces enrolled.")
		fmt.Printf("Add images to '%s' named after each person.\n", dir)
		return nil
	}

	counts := make(map[string]int)
	for _, name := range r.Names() {
		counts[name]++
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Enrolled people:")
	for _, name := range names {
		if counts[name] > 1 {
			fmt.Printf("  - %s (%d images)\n", name, counts[name])
		} else {
			fmt.Printf("  - %s\n", name)
		}
	}
	fmt.Printf("\nTotal: %d image(s), %d name(s)\n", r.Len(), len(names))
	return nil
}
