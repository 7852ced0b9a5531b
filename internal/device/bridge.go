// Package device implements the picker, permission and camera interfaces
// for the two front ends: a remote device talking HTTP and a terminal.
package device

import (
	"bytes"
	"context"
	"image"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Brownie44l1/plant-disease-api/internal/acquire"
)

// Request kinds as exposed to the remote device.
const (
	RequestPicker     = "picker"
	RequestPermission = "permission"
	RequestCamera     = "camera"
)

// PendingRequest describes an open request the device has to answer.
type PendingRequest struct {
	Kind      string    `json:"kind"`
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Accept    string    `json:"accept,omitempty"`
}

// Bridge forwards picker, permission and capture calls to a remote device.
// Each call blocks on an open request until the device answers it.
type Bridge struct {
	picker     acquire.Slot[[]byte]
	permission acquire.Slot[bool]
	camera     acquire.Slot[image.Image]

	mu       sync.Mutex
	granted  bool
	mimeType string
}

// NewBridge returns a Bridge with the camera permission not yet granted.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Pick waits for the device to upload a document. No data means cancelled.
func (b *Bridge) Pick(ctx context.Context, mimeType string) (io.ReadCloser, error) {
	b.mu.Lock()
	b.mimeType = mimeType
	b.mu.Unlock()

	data, err := b.picker.Await(ctx)
	if err != nil || len(data) == 0 {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// CameraGranted reports whether the device granted the camera before.
func (b *Bridge) CameraGranted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.granted
}

// RequestCamera waits for the device to answer the permission prompt.
// A grant is remembered for the life of the bridge.
func (b *Bridge) RequestCamera(ctx context.Context) (bool, error) {
	granted, err := b.permission.Await(ctx)
	if err != nil {
		return false, err
	}
	if granted {
		b.mu.Lock()
		b.granted = true
		b.mu.Unlock()
	}
	return granted, nil
}

// CapturePreview waits for the device to send a frame. A nil frame means cancelled.
func (b *Bridge) CapturePreview(ctx context.Context) (image.Image, error) {
	return b.camera.Await(ctx)
}

// ResolvePicker answers the open picker request. Empty data cancels it.
func (b *Bridge) ResolvePicker(data []byte) (uuid.UUID, error) {
	req, err := b.picker.Resolve(data, nil)
	if err != nil {
		return uuid.Nil, err
	}
	return req.ID, nil
}

// ResolvePermission answers the open permission request.
func (b *Bridge) ResolvePermission(granted bool) (uuid.UUID, error) {
	req, err := b.permission.Resolve(granted, nil)
	if err != nil {
		return uuid.Nil, err
	}
	return req.ID, nil
}

// ResolveCamera answers the open capture request with a frame, a nil frame
// (cancelled) or an error.
func (b *Bridge) ResolveCamera(img image.Image, captureErr error) (uuid.UUID, error) {
	req, err := b.camera.Resolve(img, captureErr)
	if err != nil {
		return uuid.Nil, err
	}
	return req.ID, nil
}

// Pending lists open requests, oldest first.
func (b *Bridge) Pending() []PendingRequest {
	var out []PendingRequest
	if req := b.picker.Pending(); req != nil {
		b.mu.Lock()
		accept := b.mimeType
		b.mu.Unlock()
		out = append(out, PendingRequest{Kind: RequestPicker, ID: req.ID, CreatedAt: req.CreatedAt, Accept: accept})
	}
	if req := b.permission.Pending(); req != nil {
		out = append(out, PendingRequest{Kind: RequestPermission, ID: req.ID, CreatedAt: req.CreatedAt})
	}
	if req := b.camera.Pending(); req != nil {
		out = append(out, PendingRequest{Kind: RequestCamera, ID: req.ID, CreatedAt: req.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
