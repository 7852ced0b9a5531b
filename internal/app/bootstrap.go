package app

import (
	"log"

	"github.com/Brownie44l1/plant-disease-api/internal/acquire"
	"github.com/Brownie44l1/plant-disease-api/internal/catalogue"
	"github.com/Brownie44l1/plant-disease-api/internal/config"
	"github.com/Brownie44l1/plant-disease-api/internal/history"
	"github.com/Brownie44l1/plant-disease-api/internal/model"
	"github.com/Brownie44l1/plant-disease-api/internal/preprocess"
)

// Devices are the front-end specific halves of the image sources.
type Devices struct {
	Picker      acquire.Picker
	Permissions acquire.Permissions
	Capturer    acquire.Capturer
	Notify      func(string)
}

// Load builds a Session from cfg: catalogue first, then the model sized to
// it. A failure in either yields an inert session rather than an error. The
// returned func releases the model and history store.
func Load(cfg *config.Config, dev Devices) (*Session, func()) {
	opts := Options{
		Preprocessor: preprocess.New(cfg.Model.Normalize),
		Notify:       dev.Notify,
	}
	if dev.Picker != nil {
		opts.Gallery = &acquire.Gallery{Picker: dev.Picker}
	}
	if dev.Permissions != nil && dev.Capturer != nil {
		opts.Camera = &acquire.Camera{
			Permissions: dev.Permissions,
			Capturer:    dev.Capturer,
			PreviewEdge: cfg.Camera.PreviewEdge,
		}
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			log.Printf("History disabled: %v", err)
		} else {
			opts.History = store
			closers = append(closers, func() { store.Close() })
		}
	}

	log.Printf("Loading catalogue from: %s", cfg.Catalogue.Path)
	entries, err := catalogue.Load(cfg.Catalogue.Path)
	if err != nil {
		log.Printf("Failed to load catalogue: %v", err)
		opts.InitErr = err
		return New(opts), closeAll
	}
	opts.Catalogue = entries

	log.Printf("Loading model from: %s", cfg.Model.Path)
	classifier, err := model.NewClassifier(model.Options{
		ModelPath:         cfg.Model.Path,
		SharedLibraryPath: cfg.Model.ORTLibrary,
		NumClasses:        len(entries),
		DefaultEdge:       cfg.Model.DefaultEdge,
		Threads:           cfg.Model.Threads,
	})
	if err != nil {
		log.Printf("Failed to load model: %v", err)
		opts.InitErr = err
		return New(opts), closeAll
	}
	opts.Runner = classifier
	closers = append(closers, classifier.Close)

	log.Printf("Model input: %s, classes: %d", classifier.Spec(), classifier.NumClasses())
	return New(opts), closeAll
}
