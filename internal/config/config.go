// Package config handles detector configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	apperrors "github.com/Brownie44l1/plant-disease-api/internal/errors"
)

// Config is the full detector configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Model     ModelConfig     `toml:"model"`
	Catalogue CatalogueConfig `toml:"catalogue"`
	Camera    CameraConfig    `toml:"camera"`
	History   HistoryConfig   `toml:"history"`
	Log       LogConfig       `toml:"log"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Port string `toml:"port"`
}

// ModelConfig points at the inference artifact and the runtime.
type ModelConfig struct {
	Path       string `toml:"path"`
	ORTLibrary string `toml:"ort_library"`
	// DefaultEdge is used when the model input has dynamic spatial dims.
	DefaultEdge int  `toml:"default_edge"`
	Threads     int  `toml:"threads"`
	Normalize   bool `toml:"normalize"` // scale float inputs to [0,1]
}

type CatalogueConfig struct {
	Path string `toml:"path"`
}

// CameraConfig configures capture for the console front end.
type CameraConfig struct {
	Command     []string `toml:"command"`
	PreviewEdge int      `toml:"preview_edge"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
	Limit   int    `toml:"limit"`
}

type LogConfig struct {
	File string `toml:"file"`
}

// Default returns the default configuration. Paths are relative to the
// project root until ResolvePaths is called.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
		},
		Model: ModelConfig{
			Path:        filepath.Join("models", "plantdiseasemodel.onnx"),
			DefaultEdge: 224,
		},
		Catalogue: CatalogueConfig{
			Path: filepath.Join("models", "label.json"),
		},
		Camera: CameraConfig{
			PreviewEdge: 320,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join("data", "history.db"),
			Limit:   50,
		},
	}
}

// Load loads the configuration from the given path.
// If the file doesn't exist, returns defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, invalid(err, "failed to read config")
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, invalid(err, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later in obscure ways.
func (c *Config) Validate() error {
	switch {
	case c.Model.Path == "":
		return invalid(nil, "model.path is required")
	case c.Catalogue.Path == "":
		return invalid(nil, "catalogue.path is required")
	case c.Model.DefaultEdge < 0:
		return invalid(nil, fmt.Sprintf("model.default_edge must not be negative, got %d", c.Model.DefaultEdge))
	case c.Camera.PreviewEdge < 0:
		return invalid(nil, fmt.Sprintf("camera.preview_edge must not be negative, got %d", c.Camera.PreviewEdge))
	case c.History.Enabled && c.History.Path == "":
		return invalid(nil, "history.path is required when history is enabled")
	}
	return nil
}

// ApplyEnv applies environment overrides. PORT replaces server.port.
func (c *Config) ApplyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Port = port
	}
}

// ResolvePaths makes relative file paths absolute against root.
func (c *Config) ResolvePaths(root string) {
	for _, p := range []*string{&c.Model.Path, &c.Model.ORTLibrary, &c.Catalogue.Path, &c.History.Path, &c.Log.File} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(root, *p)
		}
	}
}

// ProjectRoot returns the directory binaries should resolve paths against.
// When run from cmd/<name> it walks up to the directory holding go.mod.
func ProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for d := dir; ; {
		if _, err := os.Stat(filepath.Join(d, "go.mod")); err == nil {
			return d
		}
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}
	return dir
}

func invalid(inner error, msg string) error {
	if inner == nil {
		return apperrors.New(apperrors.CodeConfigInvalid, msg, apperrors.CategoryInitialization)
	}
	return apperrors.Wrap(inner, apperrors.CodeConfigInvalid, msg, apperrors.CategoryInitialization)
}
