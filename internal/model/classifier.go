package model

import (
	"fmt"
	"log"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	apperrors "github.com/Brownie44l1/plant-disease-api/internal/errors"
)

// DefaultEdgeLength is used when the model leaves its spatial dims dynamic.
const DefaultEdgeLength = 224

// Options configures NewClassifier.
type Options struct {
	ModelPath string
	// SharedLibraryPath points at libonnxruntime; empty uses the platform default.
	SharedLibraryPath string
	// NumClasses is the catalogue size and the width of the output tensor.
	NumClasses  int
	DefaultEdge int
	Threads     int
}

// Classifier owns an onnxruntime session bound to pre-allocated tensors.
type Classifier struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	spec         InputSpec
	numClasses   int
	inputFloat   *ort.Tensor[float32]
	inputUint8   *ort.Tensor[uint8]
	outputTensor *ort.Tensor[float32]
}

// NewClassifier loads the model and inspects its input. All failures are
// LoadErrors.
func NewClassifier(opts Options) (*Classifier, error) {
	if opts.NumClasses < 1 {
		return nil, loadError("catalogue has no classes", nil)
	}
	if opts.DefaultEdge <= 0 {
		opts.DefaultEdge = DefaultEdgeLength
	}

	if !ort.IsInitialized() {
		if opts.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(opts.SharedLibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, loadError("failed to initialize ONNX environment", err)
		}
	}

	inputs, outputs, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		return nil, loadError("failed to read model", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, loadError(fmt.Sprintf("unexpected io (in:%d out:%d)", len(inputs), len(outputs)), nil)
	}
	in, out := inputs[0], outputs[0]

	spec, err := specFromInfo(in, opts.DefaultEdge)
	if err != nil {
		return nil, err
	}
	if err := checkOutput(out, opts.NumClasses); err != nil {
		return nil, err
	}

	c := &Classifier{spec: spec, numClasses: opts.NumClasses}
	if err := c.allocate(); err != nil {
		c.destroyTensors()
		return nil, err
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		c.destroyTensors()
		return nil, loadError("failed to create session options", err)
	}
	defer func() {
		if err := sessionOpts.Destroy(); err != nil {
			log.Printf("Error destroying session options: %v", err)
		}
	}()
	if opts.Threads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(opts.Threads); err != nil {
			log.Printf("Ignoring thread count %d: %v", opts.Threads, err)
		}
	}

	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{in.Name}, []string{out.Name},
		[]ort.ArbitraryTensor{c.input()}, []ort.ArbitraryTensor{c.outputTensor},
		sessionOpts)
	if err != nil {
		c.destroyTensors()
		return nil, loadError("failed to create ONNX session", err)
	}
	c.session = session

	return c, nil
}

func (c *Classifier) allocate() error {
	var err error
	shape := ort.NewShape(c.spec.Shape()...)
	switch c.spec.DataType {
	case DataTypeUint8:
		c.inputUint8, err = ort.NewEmptyTensor[uint8](shape)
	default:
		c.inputFloat, err = ort.NewEmptyTensor[float32](shape)
	}
	if err != nil {
		return loadError("failed to create input tensor", err)
	}

	c.outputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(c.numClasses)))
	if err != nil {
		return loadError("failed to create output tensor", err)
	}
	return nil
}

func (c *Classifier) input() ort.ArbitraryTensor {
	if c.inputUint8 != nil {
		return c.inputUint8
	}
	return c.inputFloat
}

// Spec returns the input the model was compiled for.
func (c *Classifier) Spec() InputSpec {
	return c.spec
}

// NumClasses returns the output width.
func (c *Classifier) NumClasses() int {
	return c.numClasses
}

// Run executes the model on t and returns a copy of the output scores.
// It blocks the calling goroutine until the session finishes.
func (c *Classifier) Run(t Tensor) (ProbabilityVector, error) {
	if t.Spec != c.spec {
		return nil, runtimeError(fmt.Sprintf("tensor is %s, model expects %s", t.Spec, c.spec), nil)
	}
	if t.Len() != c.spec.Size() {
		return nil, runtimeError(fmt.Sprintf("expected %d values, got %d", c.spec.Size(), t.Len()), nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, runtimeError("classifier is closed", nil)
	}

	switch c.spec.DataType {
	case DataTypeUint8:
		copy(c.inputUint8.GetData(), t.Uint8)
	default:
		copy(c.inputFloat.GetData(), t.Float32)
	}

	if err := c.session.Run(); err != nil {
		return nil, runtimeError("inference failed", err)
	}

	outputData := c.outputTensor.GetData()
	probs := make(ProbabilityVector, len(outputData))
	copy(probs, outputData)
	return probs, nil
}

// Close releases the session, its tensors and the ONNX environment.
func (c *Classifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		c.session.Destroy()
		c.session = nil
	}
	c.destroyTensors()
	ort.DestroyEnvironment()
}

func (c *Classifier) destroyTensors() {
	if c.inputFloat != nil {
		c.inputFloat.Destroy()
		c.inputFloat = nil
	}
	if c.inputUint8 != nil {
		c.inputUint8.Destroy()
		c.inputUint8 = nil
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
		c.outputTensor = nil
	}
}

// specFromInfo derives the image input from the model's declared input.
// Non-positive spatial dims are dynamic and fall back to defaultEdge.
func specFromInfo(info ort.InputOutputInfo, defaultEdge int) (InputSpec, error) {
	var spec InputSpec

	switch info.DataType {
	case ort.TensorElementDataTypeFloat:
		spec.DataType = DataTypeFloat32
	case ort.TensorElementDataTypeUint8:
		spec.DataType = DataTypeUint8
	default:
		return spec, loadError(fmt.Sprintf("unsupported input type %v", info.DataType), nil)
	}

	dims := info.Dimensions
	if len(dims) != 4 {
		return spec, loadError(fmt.Sprintf("expected 4D input, got %dD", len(dims)), nil)
	}

	var h, w int64
	switch {
	case dims[3] == 3:
		spec.Layout = LayoutNHWC
		h, w = dims[1], dims[2]
	case dims[1] == 3:
		spec.Layout = LayoutNCHW
		h, w = dims[2], dims[3]
	default:
		return spec, loadError(fmt.Sprintf("input %v has no 3-channel axis", []int64(dims)), nil)
	}

	switch {
	case h > 0 && w > 0 && h != w:
		return spec, loadError(fmt.Sprintf("input %dx%d is not square", h, w), nil)
	case h > 0:
		spec.EdgeLength = int(h)
	case w > 0:
		spec.EdgeLength = int(w)
	default:
		spec.EdgeLength = defaultEdge
	}
	return spec, nil
}

// checkOutput verifies the output is a float score per catalogue entry.
func checkOutput(info ort.InputOutputInfo, numClasses int) error {
	if info.DataType != ort.TensorElementDataTypeFloat {
		return loadError(fmt.Sprintf("unsupported output type %v", info.DataType), nil)
	}
	dims := info.Dimensions
	if len(dims) == 0 {
		return loadError("output has no dimensions", nil)
	}
	if last := dims[len(dims)-1]; last > 0 && int(last) != numClasses {
		return loadError(fmt.Sprintf("model has %d classes, catalogue has %d", last, numClasses), nil)
	}
	return nil
}

func loadError(msg string, inner error) error {
	if inner == nil {
		return apperrors.New(apperrors.CodeModelLoad, msg, apperrors.CategoryInitialization)
	}
	return apperrors.Wrap(inner, apperrors.CodeModelLoad, msg, apperrors.CategoryInitialization)
}

func runtimeError(msg string, inner error) error {
	if inner == nil {
		return apperrors.New(apperrors.CodeInferenceRuntime, msg, apperrors.CategoryInference)
	}
	return apperrors.Wrap(inner, apperrors.CodeInferenceRuntime, msg, apperrors.CategoryInference)
}
