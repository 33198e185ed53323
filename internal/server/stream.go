package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayusman/blowout/internal/capture"
)

// FrameSource hands out the frames the detection pipeline has already read.
type FrameSource interface {
	LatestFrame() (data []byte, seq uint64, ok bool)
}

// StreamHandler serves an MJPEG preview of the local camera while a
// session holds it.
type StreamHandler struct {
	frames   FrameSource
	interval time.Duration
}

// NewStreamHandler creates a preview of frames at up to fps frames per second.
func NewStreamHandler(frames FrameSource, fps int) *StreamHandler {
	if fps <= 0 {
		fps = capture.DefaultFPS
	}
	return &StreamHandler{frames: frames, interval: time.Second / time.Duration(fps)}
}

// ServeHTTP streams frames until the client goes away or the camera is
// released. A frame is written once, however often the ticker fires.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := h.frames.LatestFrame(); !ok {
		http.Error(w, "Camera is not active", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		data, seq, ok := h.frames.LatestFrame()
		if !ok {
			return
		}
		if data == nil || seq == last {
			continue
		}
		last = seq

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data))
		if _, err := w.Write(data); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
