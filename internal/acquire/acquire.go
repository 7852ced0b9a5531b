// Package acquire obtains a decoded, normalised bitmap from the photo picker
// or the camera.
package acquire

import (
	"context"
	"errors"
	"image"
	"io"

	"github.com/disintegration/imaging"

	apperrors "github.com/Brownie44l1/plant-disease-api/internal/errors"
)

// ImageMIMEType is the document type requested from the picker.
const ImageMIMEType = "image/*"

// DefaultPreviewEdge bounds the longest side of a camera preview frame.
const DefaultPreviewEdge = 320

var (
	// ErrCancelled means the user closed the picker or camera without a result.
	ErrCancelled = apperrors.New(apperrors.CodeActionCancelled, "action cancelled", apperrors.CategoryAcquisition)

	// ErrPermissionDenied means the camera permission request was refused.
	ErrPermissionDenied = apperrors.New(apperrors.CodePermissionDenied, "Camera permission required", apperrors.CategoryAcquisition)
)

// Kind names an image source.
type Kind string

const (
	KindGallery Kind = "gallery"
	KindCamera  Kind = "camera"
)

// Source produces a decoded bitmap.
type Source interface {
	Kind() Kind
	Acquire(ctx context.Context) (*image.NRGBA, error)
}

// Picker lets the user choose a document. A nil reader with a nil error means
// the user cancelled.
type Picker interface {
	Pick(ctx context.Context, mimeType string) (io.ReadCloser, error)
}

// Permissions answers and requests the camera permission.
type Permissions interface {
	CameraGranted() bool
	RequestCamera(ctx context.Context) (bool, error)
}

// Capturer takes a quick preview photo. A nil image with a nil error means
// the user cancelled.
type Capturer interface {
	CapturePreview(ctx context.Context) (image.Image, error)
}

// Gallery acquires images through a Picker.
type Gallery struct {
	Picker Picker
}

func (g *Gallery) Kind() Kind { return KindGallery }

// Acquire asks the picker for an image and decodes it.
func (g *Gallery) Acquire(ctx context.Context) (*image.NRGBA, error) {
	rc, err := g.Picker.Pick(ctx, ImageMIMEType)
	if err != nil {
		return nil, acquisitionError(err, apperrors.CodeImageDecode, "failed to open image")
	}
	if rc == nil {
		return nil, ErrCancelled
	}
	defer rc.Close()

	return Decode(rc)
}

// Camera acquires preview frames through a Capturer once permission is granted.
type Camera struct {
	Permissions Permissions
	Capturer    Capturer
	// PreviewEdge bounds the longest side of the frame; 0 uses DefaultPreviewEdge.
	PreviewEdge int
}

func (c *Camera) Kind() Kind { return KindCamera }

// Acquire requests permission if needed, then captures one preview frame.
func (c *Camera) Acquire(ctx context.Context) (*image.NRGBA, error) {
	if !c.Permissions.CameraGranted() {
		granted, err := c.Permissions.RequestCamera(ctx)
		if err != nil {
			return nil, acquisitionError(err, apperrors.CodePermissionDenied, "permission request failed")
		}
		if !granted {
			return nil, ErrPermissionDenied
		}
	}

	img, err := c.Capturer.CapturePreview(ctx)
	if err != nil {
		return nil, acquisitionError(err, apperrors.CodeCaptureFailed, "failed to capture image")
	}
	if img == nil {
		return nil, ErrCancelled
	}

	edge := c.PreviewEdge
	if edge <= 0 {
		edge = DefaultPreviewEdge
	}
	b := img.Bounds()
	if b.Dx() > edge || b.Dy() > edge {
		img = imaging.Fit(img, edge, edge, imaging.Linear)
	}
	return Normalize(img), nil
}

// Decode reads an encoded image, applies its EXIF orientation and normalises it.
func Decode(r io.Reader) (*image.NRGBA, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeImageDecode, "failed to decode image", apperrors.CategoryAcquisition)
	}
	return Normalize(img), nil
}

// Normalize copies img into a fully opaque NRGBA bitmap anchored at (0,0).
func Normalize(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}

// acquisitionError keeps sentinel errors and context errors recognisable.
func acquisitionError(err error, code, msg string) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Wrap(err, code, msg, apperrors.CategoryAcquisition)
}
