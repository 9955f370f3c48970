package frame

import (
	"errors"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// MaxVarintLen is the longest legal base-128 varint encoding of a uint64.
	MaxVarintLen = 10
	// MaxHeaderLen bounds the tag varint plus the length varint.
	MaxHeaderLen = 2 * MaxVarintLen

	DefaultMaxPayloadBytes = 64 * 1024 * 1024
)

var (
	ErrShortHeader        = errors.New("frame: short header")
	ErrMalformedVarint    = errors.New("frame: malformed varint")
	ErrFieldIDOverflow    = errors.New("frame: field id overflows uint32")
	ErrUnexpectedWireType = errors.New("frame: unexpected wire type")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
)

// Header is the decoded preamble of one length-delimited frame.
type Header struct {
	FieldID    uint32
	WireType   protowire.Type
	PayloadLen uint64
	// Len is the encoded size of the tag and length varints.
	Len int
}

// FrameLen is the full on-wire size of the frame the header describes.
func (h Header) FrameLen() uint64 {
	return uint64(h.Len) + h.PayloadLen
}

// Frame is one complete wire message.
type Frame struct {
	FieldID uint32
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: DefaultMaxPayloadBytes,
	}
}

// ParseHeader decodes the tag and length varints at the start of b.
// ErrShortHeader means b ends inside the header; any other error is a
// framing failure the stream cannot recover from (see IsFatal).
func ParseHeader(b []byte, limits Limits) (Header, error) {
	tag, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return Header{}, varintError(n)
	}

	fieldID := tag >> 3
	if fieldID > math.MaxUint32 {
		return Header{}, fmt.Errorf("%w: %d", ErrFieldIDOverflow, fieldID)
	}
	wireType := protowire.Type(tag & 0x07)
	if wireType != protowire.BytesType {
		return Header{}, fmt.Errorf("%w: field %d has wire type %d", ErrUnexpectedWireType, fieldID, wireType)
	}

	payloadLen, m := protowire.ConsumeVarint(b[n:])
	if m < 0 {
		return Header{}, varintError(m)
	}
	if payloadLen > limits.MaxPayloadBytes {
		return Header{}, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, payloadLen, limits.MaxPayloadBytes)
	}

	return Header{
		FieldID:    uint32(fieldID),
		WireType:   wireType,
		PayloadLen: payloadLen,
		Len:        n + m,
	}, nil
}

// IsFatal reports whether err is a framing failure rather than a request
// for more bytes.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrShortHeader)
}

func varintError(code int) error {
	if errors.Is(protowire.ParseError(code), io.ErrUnexpectedEOF) {
		return ErrShortHeader
	}
	return ErrMalformedVarint
}

// HeaderLen returns the encoded header size for a frame.
func HeaderLen(fieldID uint32, payloadLen int) int {
	return protowire.SizeVarint(encodeTag(fieldID)) + protowire.SizeVarint(uint64(payloadLen))
}

// AppendHeader appends the tag and length varints for a frame to dst.
func AppendHeader(dst []byte, fieldID uint32, payloadLen int) []byte {
	dst = protowire.AppendVarint(dst, encodeTag(fieldID))
	return protowire.AppendVarint(dst, uint64(payloadLen))
}

// AppendFrame appends the encoded frame to dst.
func AppendFrame(dst []byte, f Frame) []byte {
	dst = AppendHeader(dst, f.FieldID, len(f.Payload))
	return append(dst, f.Payload...)
}

func EncodeFrame(f Frame) []byte {
	buf := make([]byte, 0, HeaderLen(f.FieldID, len(f.Payload))+len(f.Payload))
	return AppendFrame(buf, f)
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Payload)) > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	var hdr [MaxHeaderLen]byte
	hb := AppendHeader(hdr[:0], f.FieldID, len(f.Payload))
	if _, err := w.Write(hb); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

// encodeTag builds the tag varint without narrowing the field id through
// protowire.Number, which is an int32.
func encodeTag(fieldID uint32) uint64 {
	return uint64(fieldID)<<3 | uint64(protowire.BytesType)
}
