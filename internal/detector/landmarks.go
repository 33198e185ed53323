// Package detector provides face landmark types and the face-mesh detector
// that feeds the blow gesture.
package detector

// Face mesh landmark indices following the MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/face_landmarker
const (
	UpperLipInner    = 13
	LowerLipInner    = 14
	MouthLeftCorner  = 61
	MouthRightCorner = 291

	// NumLandmarks is the mesh size without iris refinement.
	NumLandmarks = 468
	// NumRefinedLandmarks is the mesh size with iris refinement enabled.
	NumRefinedLandmarks = 478
)

// MouthIndices lists the landmarks the blow gesture needs.
var MouthIndices = []int{UpperLipInner, LowerLipInner, MouthLeftCorner, MouthRightCorner}

// Point3D represents a normalized landmark; X and Y are in [0,1].
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// FaceLandmarks holds the landmarks of a single detected face keyed by
// mesh index. Sources may send a sparse set.
type FaceLandmarks struct {
	Points map[int]Point3D `json:"points"`
	Score  float64         `json:"score,omitempty"`
}

// Point returns the landmark at index i, if present.
func (f *FaceLandmarks) Point(i int) (Point3D, bool) {
	if f == nil || f.Points == nil {
		return Point3D{}, false
	}
	p, ok := f.Points[i]
	return p, ok
}

// Mouth is the four-point mouth outline used by the gesture detector.
type Mouth struct {
	TopLip      Point3D
	BottomLip   Point3D
	LeftCorner  Point3D
	RightCorner Point3D
}

// MouthOf extracts the mouth outline from a face.
// It returns false if the face is nil or any of the four landmarks is absent.
func MouthOf(f *FaceLandmarks) (Mouth, bool) {
	top, ok := f.Point(UpperLipInner)
	if !ok {
		return Mouth{}, false
	}
	bottom, ok := f.Point(LowerLipInner)
	if !ok {
		return Mouth{}, false
	}
	left, ok := f.Point(MouthLeftCorner)
	if !ok {
		return Mouth{}, false
	}
	right, ok := f.Point(MouthRightCorner)
	if !ok {
		return Mouth{}, false
	}

	return Mouth{TopLip: top, BottomLip: bottom, LeftCorner: left, RightCorner: right}, true
}

// Sparse returns a copy of the face holding only the mouth landmarks.
func (f *FaceLandmarks) Sparse() *FaceLandmarks {
	if f == nil {
		return nil
	}

	out := &FaceLandmarks{Points: make(map[int]Point3D, len(MouthIndices)), Score: f.Score}
	for _, i := range MouthIndices {
		if p, ok := f.Points[i]; ok {
			out.Points[i] = p
		}
	}
	return out
}

// MouthFace builds a face containing only the mouth landmarks.
// Used by tests and the mock detector to script mouth movement.
func MouthFace(m Mouth) FaceLandmarks {
	return FaceLandmarks{
		Points: map[int]Point3D{
			UpperLipInner:    m.TopLip,
			LowerLipInner:    m.BottomLip,
			MouthLeftCorner:  m.LeftCorner,
			MouthRightCorner: m.RightCorner,
		},
		Score: 1,
	}
}
