package detector

import "gocv.io/x/gocv"

// ModelBaseURL is where the browser page loads the face-mesh model assets.
const ModelBaseURL = "https://cdn.jsdelivr.net/npm/@mediapipe/face_mesh/"

// Detector defines the interface for face landmark implementations.
type Detector interface {
	// Detect analyzes a video frame and returns detected faces.
	// Returns an empty slice if no face is detected.
	Detect(frame *gocv.Mat) ([]FaceLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for face detection.
type Config struct {
	// MaxFaces is the maximum number of faces to detect (default: 1).
	MaxFaces int `json:"max_faces"`

	// RefineLandmarks enables the iris/lip refinement model.
	RefineLandmarks bool `json:"refine_landmarks"`

	// MinDetectionConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinDetectionConfidence float64 `json:"min_detection_confidence"`

	// MinTrackingConfidence is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConfidence float64 `json:"min_tracking_confidence"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxFaces:               1,
		RefineLandmarks:        true,
		MinDetectionConfidence: 0.5,
		MinTrackingConfidence:  0.5,
	}
}
