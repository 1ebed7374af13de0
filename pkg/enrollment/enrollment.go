// Package enrollment builds the roster from a directory of reference images.
//
// Each file holds one person; the file name without its extension is the
// person's name. Files that cannot be decoded or contain no face are skipped
// with a diagnostic and never abort the pass.
package enrollment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/roster"
	"github.com/MrCodeEU/faceattend/pkg/storage"
)

// Outcome describes what happened to one directory entry.
type Outcome int

const (
	Loaded Outcome = iota
	Cached
	SkippedUnreadable
	SkippedNoFace
	SkippedError
	SkippedDirectory
)

func (o Outcome) String() string {
	switch o {
	case Loaded:
		return "loaded"
	case Cached:
		return "cached"
	case SkippedUnreadable:
		return "couldn't read image"
	case SkippedNoFace:
		return "no face found"
	case SkippedError:
		return "error"
	case SkippedDirectory:
		return "directory"
	}
	return "unknown"
}

// Enrolled reports whether the outcome added an entry to the roster.
func (o Outcome) Enrolled() bool {
	return o == Loaded || o == Cached
}

// FileResult is the outcome for one file.
type FileResult struct {
	File    string
	Name    string
	Outcome Outcome
	Err     error
}

// Report lists per-file outcomes in directory order.
type Report struct {
	Dir     string
	Results []FileResult
}

// Enrolled returns the number of files that produced a roster entry.
func (r Report) Enrolled() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome.Enrolled() {
			n++
		}
	}
	return n
}

// Skipped returns the number of entries that did not produce a roster entry.
func (r Report) Skipped() int {
	return len(r.Results) - r.Enrolled()
}

// Decoder turns raw image file bytes into the format the engine accepts.
type Decoder interface {
	Decode(data []byte) ([]byte, error)
}

// Cache stores descriptors keyed by file name and content hash.
type Cache interface {
	Lookup(file, hash string) (recognition.Descriptor, bool)
	Put(file, hash string, descriptor recognition.Descriptor)
	Retain(keep map[string]bool) int
	Save() error
}

// ProgressFunc is called after each directory entry is handled.
type ProgressFunc func(done, total int)

// Loader enrolls reference images.
type Loader struct {
	engine   recognition.Engine
	decoder  Decoder
	cache    Cache
	progress ProgressFunc
}

// Option configures a Loader.
type Option func(*Loader)

// WithCache reuses descriptors for unchanged files.
func WithCache(c Cache) Option {
	return func(l *Loader) { l.cache = c }
}

// WithProgress reports progress after each file.
func WithProgress(fn ProgressFunc) Option {
	return func(l *Loader) { l.progress = fn }
}

// NewLoader creates a Loader.
func NewLoader(engine recognition.Engine, decoder Decoder, opts ...Option) *Loader {
	l := &Loader{engine: engine, decoder: decoder}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NameFromFile strips the extension from a file name.
func NameFromFile(file string) string {
	return strings.TrimSuffix(file, filepath.Ext(file))
}

// Load enrolls every image in dir, creating dir if needed. Only failing to
// create or list the directory is returned as an error.
func (l *Loader) Load(dir string) (*roster.Roster, Report, error) {
	report := Report{Dir: dir}
	log := logging.Component("enrollment")

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, report, fmt.Errorf("failed to create enrollment directory: %w", err)
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, report, fmt.Errorf("failed to list enrollment directory: %w", err)
	}

	var entries []roster.Entry
	seen := make(map[string]bool)

	for i, f := range files {
		name := f.Name()
		res := FileResult{File: name, Name: NameFromFile(name)}

		if f.IsDir() {
			res.Outcome = SkippedDirectory
			log.Debugf("Skipping %s: directory", name)
		} else {
			seen[name] = true
			desc, outcome, err := l.enrollFile(filepath.Join(dir, name), name)
			res.Outcome = outcome
			res.Err = err

			switch outcome {
			case Loaded, Cached:
				entries = append(entries, roster.Entry{Name: res.Name, Descriptor: desc, Source: name})
				log.Infof("Loaded: %s", name)
			case SkippedUnreadable:
				log.Warnf("Skipping %s: couldn't read image", name)
			case SkippedNoFace:
				log.Warnf("Skipping %s: no face found", name)
			default:
				log.WithError(err).Errorf("Error processing %s", name)
			}
		}

		report.Results = append(report.Results, res)
		if l.progress != nil {
			l.progress(i+1, len(files))
		}
	}

	if l.cache != nil {
		if removed := l.cache.Retain(seen); removed > 0 {
			log.Debugf("Pruned %d stale cache entries", removed)
		}
		if err := l.cache.Save(); err != nil {
			log.WithError(err).Warn("Failed to save embedding cache")
		}
	}

	log.WithFields(logging.Fields{
		"enrolled": report.Enrolled(),
		"skipped":  report.Skipped(),
	}).Info("Enrollment complete")

	return roster.New(entries), report, nil
}

// enrollFile computes the descriptor for one file. Panics from the native
// libraries are turned into SkippedError.
func (l *Loader) enrollFile(path, file string) (desc recognition.Descriptor, outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			desc = recognition.Descriptor{}
			outcome = SkippedError
			err = fmt.Errorf("panic while processing %s: %v", file, r)
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		return desc, SkippedUnreadable, err
	}

	var hash string
	if l.cache != nil {
		hash = storage.HashContent(data)
		if cached, ok := l.cache.Lookup(file, hash); ok {
			return cached, Cached, nil
		}
	}

	img, err := l.decoder.Decode(data)
	if err != nil {
		return desc, SkippedUnreadable, err
	}

	f, err := recognition.FirstFace(l.engine, img)
	if err != nil {
		if errors.Is(err, recognition.ErrNoFaceDetected) {
			return desc, SkippedNoFace, err
		}
		return desc, SkippedError, err
	}

	if l.cache != nil {
		l.cache.Put(file, hash, f.Descriptor)
	}
	return f.Descriptor, Loaded, nil
}
