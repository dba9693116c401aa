package revocation

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	recordFormatVersionCurrent = 1
)

// ErrRecordCorrupt is returned when a stored record cannot be decoded.
var ErrRecordCorrupt = errors.New("active token record corrupt")

// Record is the value stored under a record key.
type Record struct {
	UserID    string
	Digest    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Remaining returns the lifetime left at now, never negative.
func (r *Record) Remaining(now time.Time) time.Duration {
	d := r.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// EncodeRecord serializes r in the compact binary layout below. Fields longer
// than 255 bytes wrap [ErrInvalidArgument].
//
//	version(1) | len(1) userID | len(1) digest | createdAt(8) | expiresAt(8)
//
// Timestamps are big-endian unix milliseconds.
func EncodeRecord(r *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordFormatVersionCurrent)

	if len(r.UserID) > 255 {
		return nil, fmt.Errorf("%w: userID longer than 255 bytes", ErrInvalidArgument)
	}
	buf.WriteByte(byte(len(r.UserID)))
	buf.WriteString(r.UserID)

	if len(r.Digest) > 255 {
		return nil, fmt.Errorf("%w: digest longer than 255 bytes", ErrInvalidArgument)
	}
	buf.WriteByte(byte(len(r.Digest)))
	buf.WriteString(r.Digest)

	if err := binary.Write(&buf, binary.BigEndian, r.CreatedAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DecodeRecord parses a value produced by [EncodeRecord].
func DecodeRecord(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, ErrRecordCorrupt
	}
	if version != recordFormatVersionCurrent {
		return nil, ErrRecordCorrupt
	}

	userID, err := readShortString(reader)
	if err != nil {
		return nil, ErrRecordCorrupt
	}
	digest, err := readShortString(reader)
	if err != nil {
		return nil, ErrRecordCorrupt
	}

	var created, expires int64
	if err := binary.Read(reader, binary.BigEndian, &created); err != nil {
		return nil, ErrRecordCorrupt
	}
	if err := binary.Read(reader, binary.BigEndian, &expires); err != nil {
		return nil, ErrRecordCorrupt
	}
	if reader.Len() != 0 {
		return nil, ErrRecordCorrupt
	}

	return &Record{
		UserID:    userID,
		Digest:    digest,
		CreatedAt: time.UnixMilli(created),
		ExpiresAt: time.UnixMilli(expires),
	}, nil
}

func readShortString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
