package app

import (
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/ayusman/blowout/internal/capture"
)

const previewQuality = 70

// runPipeline reads one frame per tick, runs the face mesh on it and hands
// the mouth of the first face to the owning session. Frames are processed one at a time
// so the session sees them in capture order.
func (a *App) runPipeline(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(time.Second / time.Duration(a.frameRate))
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			a.processFrame()
		}
	}
}

func (a *App) processFrame() {
	a.mu.RLock()
	enabled, onFace := a.enabled, a.onFace
	a.mu.RUnlock()

	if !enabled || onFace == nil {
		return
	}

	frame, err := a.camera.ReadFrame()
	if err != nil {
		log.Debug().Err(err).Msg("Error reading frame")
		return
	}

	a.publish(frame)
	faces, err := a.detector.Detect(frame)
	frame.Close()

	a.mu.Lock()
	a.stats.Frames++
	if err == nil && len(faces) > 0 {
		a.stats.Faces++
		a.stats.LastFace = time.Now()
	}
	a.mu.Unlock()

	if err != nil {
		log.Debug().Err(err).Msg("Error detecting faces")
		return
	}
	if len(faces) == 0 {
		return
	}

	onFace(faces[0].Sparse())
}

// publish keeps frame for the preview stream.
func (a *App) publish(frame *gocv.Mat) {
	data, err := capture.EncodeJPEG(frame, previewQuality)
	if err != nil {
		log.Debug().Err(err).Msg("Error encoding preview frame")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopCh == nil {
		return
	}
	a.preview = data
	a.previewSeq++
}
