package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// Prompt shows a question and returns the user's answer.
type Prompt func(question string) (string, error)

// PathPicker asks for an image path on the terminal.
type PathPicker struct {
	Prompt Prompt
}

// Pick opens the entered path. An empty answer cancels.
func (p *PathPicker) Pick(_ context.Context, mimeType string) (io.ReadCloser, error) {
	answer, err := p.Prompt(fmt.Sprintf("Image path (%s, empty to cancel): ", mimeType))
	if err != nil {
		return nil, err
	}
	path := strings.Trim(strings.TrimSpace(answer), `"'`)
	if path == "" {
		return nil, nil
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, rest)
		}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// PromptPermissions asks the terminal user for camera access and remembers a grant.
type PromptPermissions struct {
	Prompt  Prompt
	granted bool
}

func (p *PromptPermissions) CameraGranted() bool {
	return p.granted
}

func (p *PromptPermissions) RequestCamera(context.Context) (bool, error) {
	answer, err := p.Prompt("Allow camera access? [y/N]: ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		p.granted = true
	}
	return p.granted, nil
}

// CommandCapturer runs an external command that writes one encoded frame to stdout,
// e.g. ffmpeg -f v4l2 -i /dev/video0 -frames:v 1 -f image2 -c:v png -.
type CommandCapturer struct {
	Command []string
}

// CapturePreview runs the command. Empty output means the capture was cancelled.
func (c *CommandCapturer) CapturePreview(ctx context.Context) (image.Image, error) {
	if len(c.Command) == 0 {
		return nil, errors.New("no capture command configured")
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", c.Command[0], err, msg)
		}
		return nil, fmt.Errorf("%s: %w", c.Command[0], err)
	}
	if len(out) == 0 {
		return nil, nil
	}

	img, err := imaging.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}
