package preprocess

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Brownie44l1/plant-disease-api/internal/errors"
	"github.com/Brownie44l1/plant-disease-api/internal/model"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestProcessFloatNHWC(t *testing.T) {
	img := solid(37, 19, color.NRGBA{R: 10, G: 120, B: 250, A: 255})
	spec := model.InputSpec{EdgeLength: 8, DataType: model.DataTypeFloat32, Layout: model.LayoutNHWC}

	tensor, err := New(false).Process(img, spec)
	require.NoError(t, err)
	require.Len(t, tensor.Float32, 8*8*3)
	assert.Nil(t, tensor.Uint8)
	assert.Equal(t, spec, tensor.Spec)

	for i := 0; i < len(tensor.Float32); i += 3 {
		assert.InDelta(t, 10, tensor.Float32[i], 1)
		assert.InDelta(t, 120, tensor.Float32[i+1], 1)
		assert.InDelta(t, 250, tensor.Float32[i+2], 1)
	}
}

func TestProcessNormalizedNCHW(t *testing.T) {
	img := solid(16, 16, color.NRGBA{R: 255, G: 0, B: 51, A: 255})
	spec := model.InputSpec{EdgeLength: 4, DataType: model.DataTypeFloat32, Layout: model.LayoutNCHW}

	tensor, err := New(true).Process(img, spec)
	require.NoError(t, err)
	require.Len(t, tensor.Float32, 48)

	plane := 16
	for i := 0; i < plane; i++ {
		assert.InDelta(t, 1.0, tensor.Float32[i], 0.01)
		assert.InDelta(t, 0.0, tensor.Float32[plane+i], 0.01)
		assert.InDelta(t, 0.2, tensor.Float32[2*plane+i], 0.01)
	}
}

func TestProcessUint8(t *testing.T) {
	img := solid(5, 5, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	spec := model.InputSpec{EdgeLength: 5, DataType: model.DataTypeUint8, Layout: model.LayoutNHWC}

	tensor, err := New(true).Process(img, spec)
	require.NoError(t, err)
	assert.Nil(t, tensor.Float32)
	require.Len(t, tensor.Uint8, 75)
	assert.Equal(t, []uint8{1, 2, 3}, tensor.Uint8[:3])
	assert.Equal(t, 75, tensor.Len())
}

func TestProcessIsDeterministic(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 30, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 30; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 8), G: uint8(y * 12), B: uint8(x + y), A: 255})
		}
	}
	spec := model.InputSpec{EdgeLength: 12, DataType: model.DataTypeFloat32}
	p := New(false)

	a, err := p.Process(img, spec)
	require.NoError(t, err)
	b, err := p.Process(img, spec)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestProcessErrors(t *testing.T) {
	p := New(false)

	_, err := p.Process(nil, model.InputSpec{EdgeLength: 4})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodePreprocessFailed))

	_, err = p.Process(image.NewNRGBA(image.Rect(0, 0, 0, 0)), model.InputSpec{EdgeLength: 4})
	assert.Error(t, err)

	_, err = p.Process(solid(2, 2, color.NRGBA{A: 255}), model.InputSpec{EdgeLength: 0})
	assert.Error(t, err)
}
