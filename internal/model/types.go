package model

import "fmt"

// DataType is the element type of the model's input tensor.
type DataType int

const (
	DataTypeFloat32 DataType = iota
	DataTypeUint8
)

func (d DataType) String() string {
	switch d {
	case DataTypeFloat32:
		return "float32"
	case DataTypeUint8:
		return "uint8"
	default:
		return fmt.Sprintf("DataType(%d)", int(d))
	}
}

func (d DataType) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Layout is the axis order of the image input.
type Layout int

const (
	LayoutNHWC Layout = iota
	LayoutNCHW
)

func (l Layout) String() string {
	if l == LayoutNCHW {
		return "NCHW"
	}
	return "NHWC"
}

func (l Layout) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// InputSpec describes the square RGB image the model expects.
type InputSpec struct {
	EdgeLength int      `json:"edge_length"`
	DataType   DataType `json:"data_type"`
	Layout     Layout   `json:"layout"`
}

// Shape returns the 4-D input shape with a batch of one.
func (s InputSpec) Shape() []int64 {
	e := int64(s.EdgeLength)
	if s.Layout == LayoutNCHW {
		return []int64{1, 3, e, e}
	}
	return []int64{1, e, e, 3}
}

// Size is the number of elements in one input tensor.
func (s InputSpec) Size() int {
	return 3 * s.EdgeLength * s.EdgeLength
}

func (s InputSpec) String() string {
	return fmt.Sprintf("%dx%d %s %s", s.EdgeLength, s.EdgeLength, s.DataType, s.Layout)
}

// Tensor is a preprocessed input. Only the slice matching Spec.DataType is set.
type Tensor struct {
	Spec    InputSpec
	Float32 []float32
	Uint8   []uint8
}

// Len returns the number of elements held by the tensor.
func (t Tensor) Len() int {
	if t.Spec.DataType == DataTypeUint8 {
		return len(t.Uint8)
	}
	return len(t.Float32)
}

// ProbabilityVector holds one score per catalogue entry.
type ProbabilityVector []float32

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type PredictionResponse struct {
	Probabilities ProbabilityVector `json:"probabilities"`
	Spec          InputSpec         `json:"input_spec"`
}
