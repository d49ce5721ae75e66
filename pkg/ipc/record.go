// Package ipc implements the zero-copy shared-memory transport that
// bridges Amadeus's internal bus to external processes: a fixed-layout
// wire record and an mmap-backed ring buffer service.
package ipc

import "bytes"

// Field widths for the fixed, C-compatible wire record shared with
// foreign-language peers. Changing these breaks wire compatibility.
const (
	topicNameSize   = 64
	payloadJSONSize = 4096
	sourceSize      = 64

	// RecordSize is the total on-wire size of one Record: two NUL-padded
	// byte arrays, a priority byte, an 8-byte timestamp, and a third
	// NUL-padded byte array.
	RecordSize = topicNameSize + payloadJSONSize + 1 + 8 + sourceSize
)

// Error is a typed error-kind constant for IPC record/transport failures.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrTooLarge  Error = "ipc: record exceeds fixed field width"
	ErrMalformed Error = "ipc: record is truncated or malformed"
)

// Record is the fixed-layout struct bridged to external processes.
// It intentionally mirrors C struct layout rather than a Go struct with
// encoding/binary.Write, because Go struct field alignment/padding is not
// guaranteed to match the documented bit-exact layout; Marshal/Unmarshal
// below copy each field at its documented byte offset instead.
type Record struct {
	TopicName   string
	PayloadJSON string
	Priority    uint8
	Timestamp   int64 // unix seconds, UTC
	Source      string
}

// Marshal encodes r into the fixed RecordSize-byte wire layout. Returns
// ErrTooLarge if any field overflows its fixed width.
func (r Record) Marshal() ([]byte, error) {
	if len(r.TopicName) > topicNameSize {
		return nil, ErrTooLarge
	}
	if len(r.PayloadJSON) > payloadJSONSize {
		return nil, ErrTooLarge
	}
	if len(r.Source) > sourceSize {
		return nil, ErrTooLarge
	}

	buf := make([]byte, RecordSize)
	off := 0

	copy(buf[off:off+topicNameSize], r.TopicName)
	off += topicNameSize

	copy(buf[off:off+payloadJSONSize], r.PayloadJSON)
	off += payloadJSONSize

	buf[off] = r.Priority
	off++

	putInt64LE(buf[off:off+8], r.Timestamp)
	off += 8

	copy(buf[off:off+sourceSize], r.Source)

	return buf, nil
}

// Unmarshal decodes a RecordSize-byte wire buffer into a Record.
func Unmarshal(buf []byte) (Record, error) {
	if len(buf) < RecordSize {
		return Record{}, ErrMalformed
	}

	off := 0
	topic := trimNUL(buf[off : off+topicNameSize])
	off += topicNameSize

	payload := trimNUL(buf[off : off+payloadJSONSize])
	off += payloadJSONSize

	priority := buf[off]
	off++

	ts := getInt64LE(buf[off : off+8])
	off += 8

	source := trimNUL(buf[off : off+sourceSize])

	return Record{
		TopicName:   topic,
		PayloadJSON: payload,
		Priority:    priority,
		Timestamp:   ts,
		Source:      source,
	}, nil
}

func trimNUL(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func putInt64LE(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}

func getInt64LE(b []byte) int64 {
	var u uint64
	for i := 0; i < 8; i++ {
		u |= uint64(b[i]) << (8 * i)
	}
	return int64(u)
}
