// Package frame implements the line-framed message codec shared by the
// orchestrator stdio channel, the driver stdio channel, and the UDP ingest
// surface:
//
//	<TYPE> <STATUS> <OID> <TIMESTAMP> <PAYLOAD64> '\n'
//
// PAYLOAD64 is base64 of zlib-compressed payload bytes, or "-" for an empty
// payload. The codec never interprets payload bytes; it only frames them.
package frame

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// Type is the frame's TYPE field. It is an open string type rather than a
// closed enum so that a type outside the known vocabulary still decodes:
// Decode returns it unchanged (it is not replaced with TypeUndefined), and
// the code never has to change to accept future driver vocabularies.
type Type string

// TypeUndefined is the fallback for any TYPE not recognized by the caller.
// The codec itself does not reject unknown types — it returns them as-is;
// callers decide whether a given Type is "undefined" for their channel.
const TypeUndefined Type = "UNDEFINED"

// Status is the frame's STATUS field.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusNone    Status = "-"
)

const emptyPl = "-"

// Frame is a decoded line.
type Frame struct {
	Type    Type
	Status  Status
	OID     int
	TS      int64
	Payload []byte
}

// ErrorKind classifies a decode failure.
type ErrorKind int

const (
	// ErrMalformedHeader covers a missing separator or an unparseable
	// OID/TIMESTAMP field.
	ErrMalformedHeader ErrorKind = iota
	// ErrBadBase64 covers a PAYLOAD64 field that is not valid base64.
	ErrBadBase64
	// ErrBadCompression covers a payload that does not inflate as zlib.
	ErrBadCompression
)

// Error is returned by Decode. It is a Protocol-kind error per the error
// taxonomy: callers log and drop, never treat it as fatal.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Encode builds a frame line (without trailing newline). It fails only if
// zlib compression itself fails, which in practice means out-of-memory;
// an empty payload never triggers compression and encodes as "-".
func Encode(typ Type, status Status, oid int, ts int64, payload []byte) ([]byte, error) {
	payload64 := emptyPl
	if len(payload) > 0 {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("frame: zlib compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("frame: zlib compress: %w", err)
		}
		payload64 = base64.StdEncoding.EncodeToString(buf.Bytes())
	}

	if status == "" {
		status = StatusNone
	}

	line := fmt.Sprintf("%s %s %d %d %s", typ, status, oid, ts, payload64)
	return []byte(line), nil
}

// Decode parses a single line (the trailing '\n' must already be stripped;
// trailing whitespace before it is tolerated). A TYPE outside the caller's
// enumeration is returned as-is — TypeUndefined is a convenience constant
// for callers comparing against "the unknown type", not a value Decode
// substitutes on its own.
func Decode(line []byte) (*Frame, error) {
	fields := strings.Fields(string(line))
	if len(fields) != 5 {
		return nil, &Error{
			Kind: ErrMalformedHeader,
			Msg:  fmt.Sprintf("frame: expected 5 fields, got %d", len(fields)),
		}
	}

	typ, statusStr, oidStr, tsStr, payload64 := fields[0], fields[1], fields[2], fields[3], fields[4]

	oid, err := strconv.Atoi(oidStr)
	if err != nil {
		return nil, &Error{Kind: ErrMalformedHeader, Msg: "frame: bad OID field", Err: err}
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, &Error{Kind: ErrMalformedHeader, Msg: "frame: bad TIMESTAMP field", Err: err}
	}

	status := Status(statusStr)
	switch status {
	case StatusSuccess, StatusFailure, StatusNone:
	default:
		return nil, &Error{Kind: ErrMalformedHeader, Msg: fmt.Sprintf("frame: unknown STATUS %q", statusStr)}
	}

	var payload []byte
	if payload64 != emptyPl {
		compressed, err := base64.StdEncoding.DecodeString(payload64)
		if err != nil {
			return nil, &Error{Kind: ErrBadBase64, Msg: "frame: bad base64 payload", Err: err}
		}

		zr, err := zlib.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, &Error{Kind: ErrBadCompression, Msg: "frame: bad zlib payload", Err: err}
		}
		defer zr.Close()

		payload, err = io.ReadAll(zr)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &Error{Kind: ErrBadCompression, Msg: "frame: bad zlib payload", Err: err}
		}
	}

	return &Frame{
		Type:    Type(typ),
		Status:  status,
		OID:     oid,
		TS:      ts,
		Payload: payload,
	}, nil
}
