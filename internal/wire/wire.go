// Package wire frames and encodes message.Message values for the TCP
// transport: a little-endian uint32 length prefix ahead of the payload.
package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/epax-io/epax/internal/message"
)

func init() {
	gob.Register(&message.PreAccept{})
	gob.Register(&message.PreAcceptOk{})
	gob.Register(&message.Accept{})
	gob.Register(&message.AcceptOk{})
	gob.Register(&message.Commit{})
	gob.Register(&message.Prepare{})
	gob.Register(&message.PrepareOk{})
	gob.Register(&message.Nack{})
	gob.Register(&message.ClientRequest{})
	gob.Register(&message.ClientReply{})
}

const maxFrameBytes = 64 << 20

// Encode gob-encodes m into its on-wire payload, without the length
// prefix.
func Encode(m message.Message) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := gob.NewEncoder(buf).Encode(&m); err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode.
func Decode(payload []byte) (message.Message, error) {
	var m message.Message
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&m); err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}
	return m, nil
}

// WriteFrame writes a length-prefixed message to w: a uint32 size
// followed by the payload bytes.
func WriteFrame(w *bufio.Writer, m message.Message) error {
	payload, err := Encode(m)
	if err != nil {
		return err
	}
	size := uint32(len(payload))
	if err := binary.Write(w, binary.LittleEndian, &size); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return w.Flush()
}

// ReadFrame reverses WriteFrame.
func ReadFrame(r *bufio.Reader) (message.Message, error) {
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	if size > maxFrameBytes {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds limit of %d", size, maxFrameBytes)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read frame body: %w", err)
	}
	return Decode(payload)
}
