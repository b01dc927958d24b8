package testutils

import (
	"errors"
	"io"
)

// SeekableBuffer is an in-memory io.Reader/Writer/Seeker, a stand-in for the
// files durable key material is normally written to.
type SeekableBuffer struct {
	data     []byte
	position int64
}

func NewSeekableBuffer() *SeekableBuffer {
	return &SeekableBuffer{}
}

func (b *SeekableBuffer) Read(p []byte) (int, error) {
	if b.position >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.position:])
	b.position += int64(n)
	return n, nil
}

func (b *SeekableBuffer) Write(p []byte) (int, error) {
	end := b.position + int64(len(p))
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	n := copy(b.data[b.position:end], p)
	b.position = end
	return n, nil
}

func (b *SeekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var position int64
	switch whence {
	case io.SeekStart:
		position = offset
	case io.SeekCurrent:
		position = b.position + offset
	case io.SeekEnd:
		position = int64(len(b.data)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if position < 0 {
		return 0, errors.New("negative position")
	}
	b.position = position
	return position, nil
}
