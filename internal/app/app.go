// Package app runs the local camera pipeline: frames from a webcam attached
// to the host go through the face mesh and into the session that owns the
// camera.
package app

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/blowout/internal/capture"
	"github.com/ayusman/blowout/internal/detector"
	"github.com/ayusman/blowout/internal/party"
)

// ErrCameraBusy is returned when a second session tries to use the camera.
var ErrCameraBusy = errors.New("camera is in use by another session")

// Config holds the pipeline configuration.
type Config struct {
	Camera    capture.Camera
	Detector  detector.Detector
	FrameRate int
}

// Stats describes what the pipeline has seen since it last started.
type Stats struct {
	Running  bool      `json:"running"`
	Enabled  bool      `json:"enabled"`
	Frames   int       `json:"frames"`
	Faces    int       `json:"faces"`
	LastFace time.Time `json:"last_face,omitempty"`
}

// App owns the camera and the face detector. One session at a time can
// hold the camera through a Source.
type App struct {
	camera    capture.Camera
	detector  detector.Detector
	frameRate int

	mu      sync.RWMutex
	enabled bool
	owner   *Source
	onFace  func(*detector.FaceLandmarks)
	stopCh  chan struct{}
	doneCh  chan struct{}
	stats   Stats

	// preview is the last frame read, JPEG encoded. previewSeq grows with
	// every frame.
	preview    []byte
	previewSeq uint64
}

// New creates the pipeline. Without a detector it tries the Python
// face mesh and falls back to a mock that never sees a face.
func New(config Config) *App {
	if config.Camera == nil {
		config.Camera = capture.NewCamera(capture.DefaultConfig())
	}
	if config.FrameRate <= 0 {
		config.FrameRate = capture.DefaultFPS
	}

	a := &App{
		camera:    config.Camera,
		detector:  config.Detector,
		frameRate: config.FrameRate,
		enabled:   true,
	}

	if a.detector == nil {
		if svc, err := detector.NewFaceMeshService(detector.DefaultConfig()); err == nil {
			a.detector = svc
			log.Info().Msg("Using MediaPipe face mesh")
		} else {
			log.Warn().Err(err).Msg("MediaPipe not available, using mock detector")
			a.detector = detector.NewMockDetector()
		}
	}

	return a
}

// SetEnabled pauses or resumes detection without releasing the camera.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// IsEnabled reports whether frames are being processed.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// LatestFrame returns the last frame the pipeline read, JPEG encoded, with
// a sequence number that changes on every new frame. ok is false while no
// session holds the camera. The preview shares the pipeline's frames
// instead of reading the camera itself.
func (a *App) LatestFrame() (data []byte, seq uint64, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.preview, a.previewSeq, a.stopCh != nil
}

// Detector returns the face detector.
func (a *App) Detector() detector.Detector {
	return a.detector
}

// Stats returns a copy of the pipeline counters.
func (a *App) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := a.stats
	s.Running = a.stopCh != nil
	s.Enabled = a.enabled
	return s
}

// Source returns a face source for one session. Only the first source to
// start gets the camera; others fail with ErrCameraBusy until it stops.
func (a *App) Source() *Source {
	return &Source{app: a}
}

// Close stops the pipeline and releases the detector.
func (a *App) Close() error {
	a.mu.Lock()
	owner := a.owner
	a.mu.Unlock()

	if owner != nil {
		if err := a.release(owner); err != nil {
			log.Warn().Err(err).Msg("Error closing camera")
		}
	}
	return a.detector.Close()
}

func (a *App) acquire(src *Source, onFace func(*detector.FaceLandmarks)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.owner {
	case src:
		return nil
	case nil:
	default:
		return ErrCameraBusy
	}

	if err := a.camera.Open(); err != nil {
		return err
	}
	a.camera.SetFPS(a.frameRate)

	a.owner = src
	a.onFace = onFace
	a.stats = Stats{}
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.runPipeline(a.stopCh, a.doneCh)

	log.Info().Int("fps", a.frameRate).Msg("Detection pipeline started")
	return nil
}

func (a *App) release(src *Source) error {
	a.mu.Lock()
	if a.owner != src {
		a.mu.Unlock()
		return nil
	}
	stopCh, doneCh := a.stopCh, a.doneCh
	a.owner = nil
	a.onFace = nil
	a.stopCh = nil
	a.doneCh = nil
	a.preview = nil
	a.mu.Unlock()

	close(stopCh)
	<-doneCh

	log.Info().Msg("Detection pipeline stopped")
	return a.camera.Close()
}

// Source hands the camera to one session. It implements party.FaceSource.
type Source struct {
	app *App
}

var _ party.FaceSource = (*Source)(nil)

// Start opens the camera and begins delivering faces to onFace from the
// pipeline goroutine.
func (s *Source) Start(onFace func(*detector.FaceLandmarks)) error {
	return s.app.acquire(s, onFace)
}

// Stop releases the camera. Stopping a source that does not hold it is a
// no-op.
func (s *Source) Stop() error {
	return s.app.release(s)
}
