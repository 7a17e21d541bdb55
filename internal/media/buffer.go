package media

// Buffer accumulates the chunks of one take in delivery order. It is not
// safe for concurrent use; the owning session serializes access.
type Buffer struct {
	chunks [][]byte
	size   int
}

// Append copies p onto the end of the buffer. Empty chunks are ignored and
// reported as not appended.
func (b *Buffer) Append(p []byte) bool {
	if len(p) == 0 {
		return false
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)
	return true
}

// Len returns the number of buffered chunks.
func (b *Buffer) Len() int {
	return len(b.chunks)
}

// Size returns the total number of buffered bytes.
func (b *Buffer) Size() int {
	return b.size
}

// Clip concatenates every chunk, in order, into an immutable clip.
func (b *Buffer) Clip(mimeType string) *Clip {
	data := make([]byte, 0, b.size)
	for _, chunk := range b.chunks {
		data = append(data, chunk...)
	}
	return NewClip(data, mimeType)
}

// Reset drops every chunk.
func (b *Buffer) Reset() {
	b.chunks = nil
	b.size = 0
}
