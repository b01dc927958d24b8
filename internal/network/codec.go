package network

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// stream payloads are uvarint length prefixed cbor

type CBORWriter struct {
	w io.Writer
}

func NewCBORWriter(w io.Writer) *CBORWriter {
	return &CBORWriter{w: w}
}

func (pw *CBORWriter) Write(msg any) error {
	data, err := cbor.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal error, %w", err)
	}
	prefix := binary.AppendUvarint(make([]byte, 0, binary.MaxVarintLen64), uint64(len(data)))
	if _, err := pw.w.Write(append(prefix, data...)); err != nil {
		return err
	}
	return nil
}

type CBORReader struct {
	r   *bufio.Reader
	buf []byte
}

func NewCBORReader(r io.Reader) *CBORReader {
	return &CBORReader{r: bufio.NewReader(r)}
}

func (pr *CBORReader) Read(msg any) error {
	length, err := binary.ReadUvarint(pr.r)
	if err != nil {
		return err
	}
	if length > uint64(maxMessageSize) {
		return fmt.Errorf("message of %d bytes exceeds maximum of %d", length, maxMessageSize)
	}
	if uint64(len(pr.buf)) < length {
		pr.buf = make([]byte, length)
	}
	buf := pr.buf[:length]
	if _, err := io.ReadFull(pr.r, buf); err != nil {
		return err
	}
	return cbor.Unmarshal(buf, msg)
}

const maxMessageSize = 64 * 1024 * 1024
