// Package media holds the recorded artifacts: the per-take chunk buffer,
// the finished clip and the local store that makes a clip viewable.
package media

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clip is a finished recording. Its bytes never change after creation.
type Clip struct {
	ID        string
	MIMEType  string
	CreatedAt time.Time

	data []byte
}

// NewClip wraps data as a clip. The caller must not modify data afterwards.
func NewClip(data []byte, mimeType string) *Clip {
	return &Clip{
		ID:        uuid.NewString(),
		MIMEType:  mimeType,
		CreatedAt: time.Now(),
		data:      data,
	}
}

// Size returns the clip length in bytes.
func (c *Clip) Size() int {
	return len(c.data)
}

// Bytes returns a copy of the clip contents.
func (c *Clip) Bytes() []byte {
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return out
}

// Reader returns a fresh reader over the clip contents.
func (c *Clip) Reader() io.Reader {
	return bytes.NewReader(c.data)
}

// ContainerType strips codec parameters: "video/webm;codecs=vp9" -> "video/webm".
func (c *Clip) ContainerType() string {
	return ContainerType(c.MIMEType)
}

// Extension returns the file extension, with dot, for the clip container.
func (c *Clip) Extension() string {
	return Extension(c.MIMEType)
}

// ContainerType strips parameters from a MIME type.
func ContainerType(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// Extension maps a MIME type to the file extension used for it.
func Extension(mimeType string) string {
	switch ContainerType(mimeType) {
	case "video/mp4", "audio/mp4":
		return ".mp4"
	case "video/x-matroska":
		return ".mkv"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".webm"
	}
}

// Metadata describes a clip to the upload endpoint.
type Metadata struct {
	Timestamp       time.Time `json:"timestamp"`
	DurationSeconds int       `json:"duration"`
	Format          string    `json:"format"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
}
