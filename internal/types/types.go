package types

// EncodingDim is the length of a face encoding produced by the detector worker.
const EncodingDim = 128

// Unknown is the name reported for a face that matched no known identity.
const Unknown = "Unknown"

// FaceEncoding is a 128-d face embedding. It is a value type so it cannot be
// mutated through a shared reference once computed.
type FaceEncoding [EncodingDim]float64

// FrameTask represents a single frame read from a video stream
type FrameTask struct {
	Index int
	Data  []byte
}

// BoundingBox is a face location in pixel coordinates, in the same
// (top, right, bottom, left) order the detector reports.
type BoundingBox struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Point is a 2-D landmark coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Landmarks holds the eye contours of a face in the canonical 6-point ordering.
type Landmarks struct {
	LeftEye  []Point `json:"left_eye"`
	RightEye []Point `json:"right_eye"`
}

// DetectedFace is one face found in a frame: where it is, its encoding and,
// when the detector provides them, its eye landmarks.
type DetectedFace struct {
	Box       BoundingBox  `json:"box"`
	Encoding  FaceEncoding `json:"-"`
	Landmarks *Landmarks   `json:"landmarks,omitempty"`
}

// MatchResult is the outcome of matching one detected face against the store.
type MatchResult struct {
	Face        DetectedFace `json:"face"`
	Name        string       `json:"name"`
	Distance    float64      `json:"distance"`
	HasDistance bool         `json:"has_distance"`
	Matched     bool         `json:"matched"`
}
