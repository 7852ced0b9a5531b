// Package catalogue loads the bundled list of diseases the model can report.
// Entry order matches the model's output classes.
package catalogue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Brownie44l1/plant-disease-api/internal/errors"
)

// Entry is one disease record. Index in the Catalogue is the class index.
type Entry struct {
	Name  string `json:"name" yaml:"name"`
	Cause string `json:"cause" yaml:"cause"`
	Cure  string `json:"cure" yaml:"cure"`
}

// Catalogue is the ordered list of entries.
type Catalogue []Entry

// Names returns the entry names in class order.
func (c Catalogue) Names() []string {
	names := make([]string, len(c))
	for i, e := range c {
		names[i] = e.Name
	}
	return names
}

// Format is the on-disk encoding of a catalogue.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFor picks the format from the file extension. Anything that is not
// YAML is read as JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// rawEntry keeps pointers so a missing field can be told apart from an empty one.
type rawEntry struct {
	Name  *string `json:"name" yaml:"name"`
	Cause *string `json:"cause" yaml:"cause"`
	Cure  *string `json:"cure" yaml:"cure"`
}

// Load reads and parses the catalogue at path.
func Load(path string) (Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCatalogueParse,
			"failed to read catalogue", apperrors.CategoryInitialization)
	}
	return Parse(data, FormatFor(path))
}

// Parse decodes a catalogue document. It fails if the document is not an
// array of objects or an element lacks name, cause or cure.
func Parse(data []byte, format Format) (Catalogue, error) {
	var raw []rawEntry
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, parseError("malformed catalogue", err)
	}
	if raw == nil {
		return nil, parseError("catalogue is not an array", nil)
	}

	entries := make(Catalogue, 0, len(raw))
	for i, r := range raw {
		switch {
		case r.Name == nil:
			return nil, missingField(i, "name")
		case r.Cause == nil:
			return nil, missingField(i, "cause")
		case r.Cure == nil:
			return nil, missingField(i, "cure")
		}
		entries = append(entries, Entry{Name: *r.Name, Cause: *r.Cause, Cure: *r.Cure})
	}
	return entries, nil
}

func missingField(index int, field string) error {
	return parseError(fmt.Sprintf("entry %d: missing field %q", index, field), nil)
}

func parseError(msg string, inner error) error {
	if inner == nil {
		return apperrors.New(apperrors.CodeCatalogueParse, msg, apperrors.CategoryInitialization)
	}
	return apperrors.Wrap(inner, apperrors.CodeCatalogueParse, msg, apperrors.CategoryInitialization)
}
