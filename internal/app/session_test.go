package app

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Brownie44l1/plant-disease-api/internal/acquire"
	"github.com/Brownie44l1/plant-disease-api/internal/catalogue"
	"github.com/Brownie44l1/plant-disease-api/internal/config"
	apperrors "github.com/Brownie44l1/plant-disease-api/internal/errors"
	"github.com/Brownie44l1/plant-disease-api/internal/history"
	"github.com/Brownie44l1/plant-disease-api/internal/model"
	"github.com/Brownie44l1/plant-disease-api/internal/report"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRunner struct {
	spec  model.InputSpec
	probs model.ProbabilityVector
	err   error
	calls int
}

func (r *fakeRunner) Spec() model.InputSpec { return r.spec }

func (r *fakeRunner) Run(t model.Tensor) (model.ProbabilityVector, error) {
	r.calls++
	if t.Spec != r.spec || t.Len() != r.spec.Size() {
		return nil, errors.New("shape mismatch")
	}
	return r.probs, r.err
}

type fakeSource struct {
	kind  acquire.Kind
	img   *image.NRGBA
	err   error
	block chan struct{}
}

func (s *fakeSource) Kind() acquire.Kind { return s.kind }

func (s *fakeSource) Acquire(ctx context.Context) (*image.NRGBA, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.img, s.err
}

type memHistory struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (h *memHistory) Record(_ context.Context, e history.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	return nil
}

func (h *memHistory) Recent(_ context.Context, limit int) ([]history.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries, nil
}

var leafCatalogue = catalogue.Catalogue{
	{Name: "Leaf Rust", Cause: "Fungus", Cure: "Fungicide"},
	{Name: "Background", Cause: "none", Cure: "none"},
}

func leaf() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img
}

func newSession(runner *fakeRunner, gallery, camera *fakeSource) (*Session, *memHistory, *[]string) {
	h := &memHistory{}
	var notices []string
	opts := Options{
		Catalogue: leafCatalogue,
		Runner:    runner,
		History:   h,
		Notify:    func(msg string) { notices = append(notices, msg) },
	}
	if gallery != nil {
		opts.Gallery = gallery
	}
	if camera != nil {
		opts.Camera = camera
	}
	return New(opts), h, &notices
}

func specRunner(probs ...float32) *fakeRunner {
	return &fakeRunner{
		spec:  model.InputSpec{EdgeLength: 4, DataType: model.DataTypeFloat32, Layout: model.LayoutNHWC},
		probs: probs,
	}
}

func TestSelectDetected(t *testing.T) {
	img := leaf()
	s, h, _ := newSession(specRunner(0.92, 0.08), &fakeSource{kind: acquire.KindGallery, img: img}, nil)

	res, err := s.Select(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Report)
	assert.Equal(t, report.OutcomeDetected, res.Report.Outcome)
	assert.Contains(t, res.Text, "Leaf Rust")
	assert.Contains(t, res.Text, "92.0%")

	snap := s.Display()
	assert.Same(t, img, snap.Image)
	assert.Equal(t, res.Text, snap.Text)

	require.Len(t, h.entries, 1)
	assert.Equal(t, "gallery", h.entries[0].Source)
	assert.Equal(t, "Leaf Rust", h.entries[0].Class)
	assert.Equal(t, res.ActionID, h.entries[0].ID)
}

func TestCaptureBackground(t *testing.T) {
	s, _, _ := newSession(specRunner(0.30, 0.70), nil, &fakeSource{kind: acquire.KindCamera, img: leaf()})
	res, err := s.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.MessageNoPlant, res.Text)
	assert.Equal(t, report.MessageNoPlant, s.Display().Text)
}

func TestNotConfident(t *testing.T) {
	s, _, _ := newSession(specRunner(0.10, 0.05), &fakeSource{kind: acquire.KindGallery, img: leaf()}, nil)
	res, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.MessageNotConfident, res.Text)
}

func TestPermissionDeniedLeavesDisplayUnchanged(t *testing.T) {
	camera := &fakeSource{kind: acquire.KindCamera, err: acquire.ErrPermissionDenied}
	s, h, notices := newSession(specRunner(0.92, 0.08), &fakeSource{kind: acquire.KindGallery, img: leaf()}, camera)

	_, err := s.Select(context.Background())
	require.NoError(t, err)
	before := s.Display()

	res, err := s.Capture(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, acquire.ErrPermissionDenied)
	assert.Empty(t, res.Text)
	assert.Equal(t, "Camera permission required", res.Notice)
	assert.Equal(t, []string{"Camera permission required"}, *notices)

	after := s.Display()
	assert.Same(t, before.Image, after.Image)
	assert.Equal(t, before.Text, after.Text)
	assert.Equal(t, "Camera permission required", after.Notice)
	assert.Len(t, h.entries, 1)

	// The next action clears the notice.
	_, err = s.Select(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.Display().Notice)
}

func TestCancelledLeavesDisplayUnchanged(t *testing.T) {
	gallery := &fakeSource{kind: acquire.KindGallery, err: acquire.ErrCancelled}
	s, _, notices := newSession(specRunner(0.92, 0.08), gallery, nil)

	res, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, acquire.ErrCancelled)
	assert.Equal(t, Snapshot{}, s.Display())
	assert.Empty(t, *notices)
}

func TestAcquisitionErrorShown(t *testing.T) {
	decodeErr := apperrors.Wrap(errors.New("unexpected EOF"), apperrors.CodeImageDecode,
		"failed to decode image", apperrors.CategoryAcquisition)
	runner := specRunner(0.92, 0.08)
	s, _, _ := newSession(runner, &fakeSource{kind: acquire.KindGallery, err: decodeErr}, nil)

	res, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Error: failed to decode image: unexpected EOF", res.Text)
	assert.Equal(t, res.Text, s.Display().Text)
	assert.Nil(t, s.Display().Image)
	assert.Zero(t, runner.calls)
}

func TestInferenceErrorShown(t *testing.T) {
	runner := specRunner()
	runner.err = apperrors.New(apperrors.CodeInferenceRuntime, "inference failed", apperrors.CategoryInference)
	img := leaf()
	s, h, _ := newSession(runner, &fakeSource{kind: acquire.KindGallery, img: img}, nil)

	res, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Error: inference failed", res.Text)
	assert.Same(t, img, s.Display().Image, "the image is shown before inference")
	assert.Empty(t, h.entries)

	// A later action is unaffected.
	runner.err = nil
	runner.probs = model.ProbabilityVector{0.92, 0.08}
	res, err = s.Select(context.Background())
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Detected: Leaf Rust")
}

func TestOneActionAtATime(t *testing.T) {
	block := make(chan struct{})
	gallery := &fakeSource{kind: acquire.KindGallery, img: leaf(), block: block}
	s, _, _ := newSession(specRunner(0.92, 0.08), gallery, &fakeSource{kind: acquire.KindCamera, img: leaf()})

	id, done, err := s.Start(context.Background(), acquire.KindGallery)
	require.NoError(t, err)

	_, err = s.Capture(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	_, _, err = s.Start(context.Background(), acquire.KindGallery)
	assert.ErrorIs(t, err, ErrBusy)

	close(block)
	res := <-done
	assert.Equal(t, id, res.ActionID)
	assert.NoError(t, res.Err)

	_, err = s.Capture(context.Background())
	assert.NoError(t, err)
}

func TestStartCancelledByContext(t *testing.T) {
	gallery := &fakeSource{kind: acquire.KindGallery, block: make(chan struct{})}
	s, _, _ := newSession(specRunner(0.92, 0.08), gallery, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, done, err := s.Start(ctx, acquire.KindGallery)
	require.NoError(t, err)
	cancel()

	res := <-done
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, Snapshot{}, s.Display())
}

func TestMissingSource(t *testing.T) {
	s, _, _ := newSession(specRunner(0.92, 0.08), nil, nil)
	_, err := s.Capture(context.Background())
	assert.Error(t, err)
}

func TestInertSession(t *testing.T) {
	initErr := apperrors.New(apperrors.CodeCatalogueParse, `entry 0: missing field "cure"`, apperrors.CategoryInitialization)
	s := New(Options{
		Gallery: &fakeSource{kind: acquire.KindGallery, img: leaf()},
		InitErr: initErr,
	})

	want := `Error init: entry 0: missing field "cure"`
	assert.Equal(t, want, s.Display().Text)

	res, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, initErr)
	assert.Equal(t, want, s.Display().Text)
	assert.Nil(t, s.Display().Image)

	_, err = s.Classify(context.Background(), leaf())
	assert.Error(t, err)
	_, err = s.RunTensor(model.Tensor{})
	assert.Error(t, err)
	assert.Equal(t, model.InputSpec{}, s.Spec())
}

func TestClassifyDoesNotTouchDisplay(t *testing.T) {
	s, h, _ := newSession(specRunner(0.92, 0.08), nil, nil)

	rep, err := s.Classify(context.Background(), leaf())
	require.NoError(t, err)
	assert.Equal(t, report.OutcomeDetected, rep.Outcome)
	assert.Equal(t, Snapshot{}, s.Display())

	entries, err := s.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, SourceUpload, entries[0].Source)
	assert.Same(t, h, s.history)
}

func TestLoadWithBrokenCatalogueIsInert(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Catalogue.Path = filepath.Join(dir, "missing.json")
	cfg.History.Enabled = false

	s, closeAll := Load(cfg, Devices{})
	defer closeAll()

	require.Error(t, s.InitErr())
	assert.True(t, apperrors.HasCode(s.InitErr(), apperrors.CodeCatalogueParse))
	assert.Contains(t, s.Display().Text, "Error init: failed to read catalogue")
}
