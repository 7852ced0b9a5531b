// Package report turns a probability vector into the text shown to the user.
package report

import (
	"fmt"
	"strings"

	"github.com/Brownie44l1/plant-disease-api/internal/catalogue"
	"github.com/Brownie44l1/plant-disease-api/internal/model"
)

const (
	// ConfidenceThreshold is the minimum top-class percentage for a detection.
	ConfidenceThreshold = 40.0

	// BackgroundMarker in an entry name means the model saw no plant.
	BackgroundMarker = "Background"
)

const (
	MessageNotConfident = "Not sure.\nPlease take a clearer picture of a leaf."
	MessageNoPlant      = "No plant detected.\nPlease take a photo of a plant leaf."
	MessageUnidentified = "Could not identify the image."
)

// Outcome is the branch of the decision policy a report took.
type Outcome int

const (
	OutcomeUnidentified Outcome = iota
	OutcomeNotConfident
	OutcomeNoPlant
	OutcomeDetected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotConfident:
		return "not_confident"
	case OutcomeNoPlant:
		return "no_plant"
	case OutcomeDetected:
		return "detected"
	default:
		return "unidentified"
	}
}

// MarshalText lets outcomes appear by name in JSON.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Report is the evaluated top class.
type Report struct {
	Outcome Outcome
	// Index is the selected class, -1 when nothing could be selected.
	Index int
	Entry catalogue.Entry
	// Confidence is the selected probability as a percentage.
	Confidence float64
}

// Argmax returns the index of the first maximum value, or -1 if probs is empty.
func Argmax(probs []float32) int {
	if len(probs) == 0 {
		return -1
	}
	maxIdx := 0
	maxVal := probs[0]
	for i, val := range probs {
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}
	return maxIdx
}

// Evaluate selects the top class among indices present in both probs and
// entries, then applies the threshold and background checks in that order.
func Evaluate(probs model.ProbabilityVector, entries catalogue.Catalogue) Report {
	n := min(len(probs), len(entries))
	idx := Argmax(probs[:n])
	if idx < 0 {
		return Report{Outcome: OutcomeUnidentified, Index: -1}
	}

	r := Report{
		Index:      idx,
		Entry:      entries[idx],
		Confidence: float64(probs[idx]) * 100,
	}
	switch {
	case r.Confidence < ConfidenceThreshold:
		r.Outcome = OutcomeNotConfident
	case strings.Contains(strings.ToLower(r.Entry.Name), strings.ToLower(BackgroundMarker)):
		r.Outcome = OutcomeNoPlant
	default:
		r.Outcome = OutcomeDetected
	}
	return r
}

// Text renders the report for the result area.
func (r Report) Text() string {
	switch r.Outcome {
	case OutcomeNotConfident:
		return MessageNotConfident
	case OutcomeNoPlant:
		return MessageNoPlant
	case OutcomeDetected:
		return fmt.Sprintf("Detected: %s\nConfidence: %.1f%%\n\nCAUSE:\n%s\n\nCURE:\n%s",
			r.Entry.Name, r.Confidence, r.Entry.Cause, r.Entry.Cure)
	default:
		return MessageUnidentified
	}
}
