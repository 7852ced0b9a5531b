// Package app wires the catalogue, model, image sources and presenter into
// one application context that front ends pass to their handlers.
package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Brownie44l1/plant-disease-api/internal/acquire"
	"github.com/Brownie44l1/plant-disease-api/internal/catalogue"
	apperrors "github.com/Brownie44l1/plant-disease-api/internal/errors"
	"github.com/Brownie44l1/plant-disease-api/internal/history"
	"github.com/Brownie44l1/plant-disease-api/internal/model"
	"github.com/Brownie44l1/plant-disease-api/internal/preprocess"
	"github.com/Brownie44l1/plant-disease-api/internal/report"
)

// SourceUpload marks detections made through the stateless upload path.
const SourceUpload = "upload"

var (
	// ErrBusy is returned when an action is started while another runs.
	ErrBusy = apperrors.New(apperrors.CodeSessionBusy, "another action is in progress", apperrors.CategoryAcquisition)

	errNoSource = errors.New("no image source configured")
)

// Runner executes the model.
type Runner interface {
	Spec() model.InputSpec
	Run(model.Tensor) (model.ProbabilityVector, error)
}

// History records detections. Implemented by *history.Store.
type History interface {
	Record(ctx context.Context, e history.Entry) error
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// Options holds everything a Session is built from. Only Catalogue and
// Runner are required unless InitErr is set.
type Options struct {
	Catalogue    catalogue.Catalogue
	Runner       Runner
	Preprocessor *preprocess.Preprocessor
	Gallery      acquire.Source
	Camera       acquire.Source
	History      History
	// Notify shows a transient message, like a toast.
	Notify func(string)
	// InitErr makes the session inert: actions only keep showing the error.
	InitErr error
}

// Result is the outcome of one action.
type Result struct {
	ActionID uuid.UUID
	Source   acquire.Kind
	// Report is set when inference completed.
	Report *report.Report
	// Text is the result text shown after the action; empty when unchanged.
	Text   string
	Notice string
	Err    error
}

// Session is the application context. It runs one action at a time.
type Session struct {
	catalogue catalogue.Catalogue
	runner    Runner
	prep      *preprocess.Preprocessor
	sources   map[acquire.Kind]acquire.Source
	history   History
	notify    func(string)
	initErr   error

	busy    sync.Mutex
	display Display
}

// New builds a session. If opts.InitErr is set the result area shows it.
func New(opts Options) *Session {
	s := &Session{
		catalogue: opts.Catalogue,
		runner:    opts.Runner,
		prep:      opts.Preprocessor,
		sources:   make(map[acquire.Kind]acquire.Source),
		history:   opts.History,
		notify:    opts.Notify,
		initErr:   opts.InitErr,
	}
	if s.prep == nil {
		s.prep = preprocess.New(false)
	}
	if opts.Gallery != nil {
		s.sources[acquire.KindGallery] = opts.Gallery
	}
	if opts.Camera != nil {
		s.sources[acquire.KindCamera] = opts.Camera
	}
	if s.initErr != nil {
		s.display.setText("Error init: " + apperrors.UserMessage(s.initErr))
	}
	return s
}

// InitErr returns the startup failure, if any.
func (s *Session) InitErr() error { return s.initErr }

// Catalogue returns the loaded catalogue.
func (s *Session) Catalogue() catalogue.Catalogue { return s.catalogue }

// Display returns what the user currently sees.
func (s *Session) Display() Snapshot { return s.display.Snapshot() }

// Select runs a gallery action.
func (s *Session) Select(ctx context.Context) (Result, error) {
	return s.Run(ctx, acquire.KindGallery)
}

// Capture runs a camera action.
func (s *Session) Capture(ctx context.Context) (Result, error) {
	return s.Run(ctx, acquire.KindCamera)
}

// Run performs one action synchronously. The returned error is only ErrBusy
// or a missing source; action failures are reported in Result.
func (s *Session) Run(ctx context.Context, kind acquire.Kind) (Result, error) {
	src, ok := s.sources[kind]
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", kind, errNoSource)
	}
	if !s.busy.TryLock() {
		return Result{}, ErrBusy
	}
	defer s.busy.Unlock()

	return s.run(ctx, uuid.New(), src), nil
}

// Start begins an action in the background and returns its id. The channel
// receives the result once.
func (s *Session) Start(ctx context.Context, kind acquire.Kind) (uuid.UUID, <-chan Result, error) {
	src, ok := s.sources[kind]
	if !ok {
		return uuid.Nil, nil, fmt.Errorf("%s: %w", kind, errNoSource)
	}
	if !s.busy.TryLock() {
		return uuid.Nil, nil, ErrBusy
	}

	id := uuid.New()
	done := make(chan Result, 1)
	go func() {
		res := s.run(ctx, id, src)
		s.busy.Unlock()
		done <- res
		close(done)
	}()
	return id, done, nil
}

func (s *Session) run(ctx context.Context, id uuid.UUID, src acquire.Source) Result {
	start := time.Now()
	res := Result{ActionID: id, Source: src.Kind()}
	s.display.setNotice("")

	if s.initErr != nil {
		res.Err = s.initErr
		log.Printf("Action %s (%s) ignored: %v", id, src.Kind(), s.initErr)
		return res
	}

	img, err := src.Acquire(ctx)
	if err != nil {
		res.Err = err
		switch {
		case errors.Is(err, acquire.ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			log.Printf("Action %s (%s) cancelled", id, src.Kind())
		case errors.Is(err, acquire.ErrPermissionDenied):
			res.Notice = apperrors.UserMessage(err)
			s.showNotice(res.Notice)
			log.Printf("Action %s (%s): %s", id, src.Kind(), res.Notice)
		default:
			res.Text = "Error: " + apperrors.UserMessage(err)
			s.display.setText(res.Text)
			log.Printf("Action %s (%s) failed: %v", id, src.Kind(), err)
		}
		return res
	}

	s.display.setImage(img)

	rep, err := s.classify(img)
	if err != nil {
		res.Err = err
		res.Text = "Error: " + apperrors.UserMessage(err)
		s.display.setText(res.Text)
		log.Printf("Action %s (%s) failed: %v", id, src.Kind(), err)
		return res
	}

	res.Report = &rep
	res.Text = rep.Text()
	s.display.setText(res.Text)
	s.record(ctx, id, string(src.Kind()), rep)
	log.Printf("Action %s (%s) finished in %s: %s", id, src.Kind(), time.Since(start).Round(time.Millisecond), rep.Outcome)
	return res
}

// Classify runs preprocessing, inference and the presenter on img without
// touching the display. The detection is recorded with source "upload".
func (s *Session) Classify(ctx context.Context, img image.Image) (report.Report, error) {
	if s.initErr != nil {
		return report.Report{}, s.initErr
	}
	rep, err := s.classify(img)
	if err != nil {
		return report.Report{}, err
	}
	s.record(ctx, uuid.New(), SourceUpload, rep)
	return rep, nil
}

// RunTensor runs the model on an already preprocessed tensor.
func (s *Session) RunTensor(t model.Tensor) (model.ProbabilityVector, error) {
	if s.initErr != nil {
		return nil, s.initErr
	}
	return s.runner.Run(t)
}

// Spec returns the model input spec, or the zero value if the session is inert.
func (s *Session) Spec() model.InputSpec {
	if s.runner == nil {
		return model.InputSpec{}
	}
	return s.runner.Spec()
}

// History returns recent detections, or nothing if history is disabled.
func (s *Session) History(ctx context.Context, limit int) ([]history.Entry, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.Recent(ctx, limit)
}

func (s *Session) classify(img image.Image) (report.Report, error) {
	tensor, err := s.prep.Process(img, s.runner.Spec())
	if err != nil {
		return report.Report{}, err
	}

	probs, err := s.runner.Run(tensor)
	if err != nil {
		return report.Report{}, err
	}

	rep := report.Evaluate(probs, s.catalogue)
	if rep.Index >= 0 {
		log.Printf("Detected: %s (%.1f%%)", rep.Entry.Name, rep.Confidence)
	}
	return rep, nil
}

func (s *Session) record(ctx context.Context, id uuid.UUID, source string, rep report.Report) {
	if s.history == nil {
		return
	}
	e := history.Entry{
		ID:         id,
		Source:     source,
		Outcome:    rep.Outcome.String(),
		Confidence: rep.Confidence,
		Message:    rep.Text(),
	}
	if rep.Index >= 0 {
		e.Class = rep.Entry.Name
	}
	if err := s.history.Record(context.WithoutCancel(ctx), e); err != nil {
		log.Printf("Failed to record detection %s: %v", id, err)
	}
}

func (s *Session) showNotice(msg string) {
	s.display.setNotice(msg)
	if s.notify != nil {
		s.notify(msg)
	}
}
