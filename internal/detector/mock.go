package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu     sync.Mutex
	faces  []FaceLandmarks
	script [][]FaceLandmarks
	err    error
	calls  int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetFaces sets the faces that will be returned by Detect.
func (m *MockDetector) SetFaces(faces []FaceLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces = faces
}

// SetScript queues per-call results. Each Detect call consumes one entry;
// once the script runs out, the faces set by SetFaces are returned.
func (m *MockDetector) SetScript(script [][]FaceLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = script
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Detect has been called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the next scripted result, the pre-configured faces, or error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]FaceLandmarks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.script) > 0 {
		next := m.script[0]
		m.script = m.script[1:]
		return next, nil
	}
	return m.faces, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// RestingMouth returns a closed, relaxed mouth with the given opening.
func RestingMouth(open float64) Mouth {
	return Mouth{
		TopLip:      Point3D{X: 0.50, Y: 0.60},
		BottomLip:   Point3D{X: 0.50, Y: 0.60 + open},
		LeftCorner:  Point3D{X: 0.485, Y: 0.61},
		RightCorner: Point3D{X: 0.515, Y: 0.61},
	}
}

// BlowingMouth returns a rounded, open mouth typical of blowing out candles:
// opening 0.05 with a mouth width of 0.03.
func BlowingMouth() Mouth {
	return Mouth{
		TopLip:      Point3D{X: 0.50, Y: 0.60},
		BottomLip:   Point3D{X: 0.50, Y: 0.65},
		LeftCorner:  Point3D{X: 0.485, Y: 0.625},
		RightCorner: Point3D{X: 0.515, Y: 0.625},
	}
}
