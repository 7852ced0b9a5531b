package app

import (
	"image"
	"sync"
	"time"
)

// Display is what the user currently sees: the last accepted image, the
// result text and a transient notice that never replaces either.
type Display struct {
	mu        sync.RWMutex
	image     *image.NRGBA
	text      string
	notice    string
	updatedAt time.Time
}

// Snapshot is a point-in-time copy of the display.
type Snapshot struct {
	Image     *image.NRGBA
	Text      string
	Notice    string
	UpdatedAt time.Time
}

func (d *Display) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Snapshot{Image: d.image, Text: d.text, Notice: d.notice, UpdatedAt: d.updatedAt}
}

func (d *Display) setImage(img *image.NRGBA) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.image = img
	d.updatedAt = time.Now()
}

func (d *Display) setText(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = text
	d.updatedAt = time.Now()
}

func (d *Display) setNotice(notice string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notice = notice
}
