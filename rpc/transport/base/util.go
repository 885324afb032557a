package base

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/mKV/rpc/transport"
	"io"
	"net"
)

const (
	// headerSize is 8 bytes request id + 4 bytes payload length
	headerSize = 12
	// maxPayloadSize protects against allocating huge buffers for corrupt headers
	maxPayloadSize = 64 * 1024 * 1024
)

// writeFrame writes a frame to the connection with the format:
// - 8 bytes: requestID (uint64, big endian)
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
//
// Payloads above maxPayloadSize are rejected with transport.ErrPayloadTooLarge before
// anything is written, the peer would refuse them anyway.
func writeFrame(conn net.Conn, requestID uint64, data []byte) error {
	if len(data) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d bytes", transport.ErrPayloadTooLarge, len(data), maxPayloadSize)
	}

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint64(header[:8], requestID)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readHeader reads a frame header and returns the request id and the payload length.
// io.EOF is only returned if the peer closed the stream before the first header byte.
func readHeader(conn net.Conn, buf []byte) (uint64, int, error) {
	if len(buf) < headerSize {
		buf = make([]byte, headerSize)
	}

	if _, err := io.ReadFull(conn, buf[:headerSize]); err != nil {
		return 0, 0, err
	}

	requestID := binary.BigEndian.Uint64(buf[:8])
	contentLength := binary.BigEndian.Uint32(buf[8:12])

	if contentLength > maxPayloadSize {
		return 0, 0, fmt.Errorf("frame payload of %d bytes exceeds limit of %d bytes", contentLength, maxPayloadSize)
	}
	return requestID, int(contentLength), nil
}

// readPayload reads n payload bytes using the provided buffer.
// If the buffer is too small, a new one is allocated.
func readPayload(conn net.Conn, buf []byte, n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}

	if len(buf) < n {
		buf = make([]byte, n)
	}

	if _, err := io.ReadFull(conn, buf[:n]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf[:n], nil
}

// readFrame reads a complete frame from the connection using the provided buffer
// If the buffer is too small, it will allocate a new temporary buffer for the data
func readFrame(conn net.Conn, buf []byte) (uint64, []byte, error) {
	requestID, n, err := readHeader(conn, buf)
	if err != nil {
		return 0, nil, err
	}

	data, err := readPayload(conn, buf, n)
	if err != nil {
		return 0, nil, err
	}
	return requestID, data, nil
}
