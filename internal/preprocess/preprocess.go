// Package preprocess turns a bitmap into the input tensor a model expects.
package preprocess

import (
	"fmt"
	"image"
	"image/color"

	"github.com/nfnt/resize"

	apperrors "github.com/Brownie44l1/plant-disease-api/internal/errors"
	"github.com/Brownie44l1/plant-disease-api/internal/model"
)

// Preprocessor resizes and casts images. The zero value keeps raw 0-255
// channel values for float models.
type Preprocessor struct {
	// Normalize scales float channels to [0,1].
	Normalize bool
}

// New returns a Preprocessor.
func New(normalize bool) *Preprocessor {
	return &Preprocessor{Normalize: normalize}
}

// Process resizes img to spec.EdgeLength square with bilinear interpolation
// and lays out its RGB channels in the requested layout and element type.
func (p *Preprocessor) Process(img image.Image, spec model.InputSpec) (model.Tensor, error) {
	if img == nil || img.Bounds().Empty() {
		return model.Tensor{}, apperrors.New(apperrors.CodePreprocessFailed,
			"image is empty", apperrors.CategoryInference)
	}
	if spec.EdgeLength <= 0 {
		return model.Tensor{}, apperrors.New(apperrors.CodePreprocessFailed,
			fmt.Sprintf("invalid edge length %d", spec.EdgeLength), apperrors.CategoryInference)
	}

	edge := spec.EdgeLength
	resized := resize.Resize(uint(edge), uint(edge), img, resize.Bilinear)
	bounds := resized.Bounds()

	t := model.Tensor{Spec: spec}
	switch spec.DataType {
	case model.DataTypeUint8:
		t.Uint8 = make([]uint8, spec.Size())
	default:
		t.Float32 = make([]float32, spec.Size())
	}

	plane := edge * edge
	for y := 0; y < edge; y++ {
		for x := 0; x < edge; x++ {
			c := color.NRGBAModel.Convert(resized.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			channels := [3]uint8{c.R, c.G, c.B}

			pixelIndex := y*edge + x
			for ch, v := range channels {
				var idx int
				if spec.Layout == model.LayoutNCHW {
					idx = ch*plane + pixelIndex
				} else {
					idx = pixelIndex*3 + ch
				}

				if t.Uint8 != nil {
					t.Uint8[idx] = v
					continue
				}
				f := float32(v)
				if p.Normalize {
					f /= 255.0
				}
				t.Float32[idx] = f
			}
		}
	}

	return t, nil
}
