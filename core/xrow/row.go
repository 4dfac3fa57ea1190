// Package xrow defines the log row header and the request body carried by
// every durable statement.
package xrow

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-msgpack/v2/codec"
)

// RequestType identifies the operation a row replays.
type RequestType uint8

const (
	TypeSelect  RequestType = 1
	TypeInsert  RequestType = 2
	TypeReplace RequestType = 3
	TypeUpdate  RequestType = 4
	TypeDelete  RequestType = 5
	TypePrepare RequestType = 16 // two-phase vote
)

func (t RequestType) String() string {
	switch t {
	case TypeSelect:
		return "SELECT"
	case TypeInsert:
		return "INSERT"
	case TypeReplace:
		return "REPLACE"
	case TypeUpdate:
		return "UPDATE"
	case TypeDelete:
		return "DELETE"
	case TypePrepare:
		return "PREPARE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Unset two-phase identity values.
const (
	NoTxID          uint64 = math.MaxUint64
	NoCoordinatorID uint32 = math.MaxUint32
)

const (
	headerSize = 1 + 4 + 8 + 8 + 8 + 8 + 4 + 4
	frameSize  = 4 + 8
)

var (
	ErrShortBuffer      = errors.New("xrow: buffer too short")
	ErrChecksumMismatch = errors.New("xrow: frame checksum mismatch")
)

// Header is one log row. Body holds the msgpack-encoded request.
type Header struct {
	Type          RequestType
	ReplicaID     uint32
	LSN           int64
	Tm            float64 // wall clock seconds, stamped at flush time
	Sync          uint64
	TxID          uint64
	CoordinatorID uint32
	Body          []byte
}

// EncodedSize returns the size of the header once encoded.
func (h *Header) EncodedSize() int {
	return headerSize + len(h.Body)
}

// AppendTo appends the binary encoding of h to dst.
func (h *Header) AppendTo(dst []byte) []byte {
	dst = append(dst, byte(h.Type))
	dst = binary.LittleEndian.AppendUint32(dst, h.ReplicaID)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(h.LSN))
	dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(h.Tm))
	dst = binary.LittleEndian.AppendUint64(dst, h.Sync)
	dst = binary.LittleEndian.AppendUint64(dst, h.TxID)
	dst = binary.LittleEndian.AppendUint32(dst, h.CoordinatorID)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(h.Body)))
	return append(dst, h.Body...)
}

// DecodeHeader parses a header produced by AppendTo. The returned body is a
// copy and does not alias b.
func DecodeHeader(b []byte) (*Header, error) {
	if len(b) < headerSize {
		return nil, ErrShortBuffer
	}
	h := &Header{
		Type:          RequestType(b[0]),
		ReplicaID:     binary.LittleEndian.Uint32(b[1:5]),
		LSN:           int64(binary.LittleEndian.Uint64(b[5:13])),
		Tm:            math.Float64frombits(binary.LittleEndian.Uint64(b[13:21])),
		Sync:          binary.LittleEndian.Uint64(b[21:29]),
		TxID:          binary.LittleEndian.Uint64(b[29:37]),
		CoordinatorID: binary.LittleEndian.Uint32(b[37:41]),
	}
	bodyLen := int(binary.LittleEndian.Uint32(b[41:45]))
	if len(b) < headerSize+bodyLen {
		return nil, ErrShortBuffer
	}
	h.Body = append([]byte(nil), b[headerSize:headerSize+bodyLen]...)
	return h, nil
}

// AppendFrame appends a checksummed frame holding h: payload length,
// xxhash64 of the payload, payload.
func AppendFrame(dst []byte, h *Header) []byte {
	payload := h.AppendTo(make([]byte, 0, h.EncodedSize()))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	dst = binary.LittleEndian.AppendUint64(dst, xxhash.Sum64(payload))
	return append(dst, payload...)
}

// FrameHeader splits the fixed frame prefix into payload length and checksum.
func FrameHeader(prefix []byte) (int, uint64, error) {
	if len(prefix) < frameSize {
		return 0, 0, ErrShortBuffer
	}
	return int(binary.LittleEndian.Uint32(prefix[0:4])), binary.LittleEndian.Uint64(prefix[4:12]), nil
}

// FrameSize is the size of the fixed frame prefix.
func FrameSize() int { return frameSize }

// VerifyPayload decodes a frame payload after checking its checksum.
func VerifyPayload(payload []byte, sum uint64) (*Header, error) {
	if xxhash.Sum64(payload) != sum {
		return nil, ErrChecksumMismatch
	}
	return DecodeHeader(payload)
}

// Request is a decoded DML request. Header is set when the request arrived
// with a ready-made row, e.g. from a replica.
type Request struct {
	Type    RequestType
	SpaceID uint32
	Key     []byte
	Tuple   []byte
	Header  *Header
}

type requestBody struct {
	SpaceID uint32 `codec:"space_id"`
	Key     []byte `codec:"key,omitempty"`
	Tuple   []byte `codec:"tuple,omitempty"`
}

var msgpackHandle = &codec.MsgpackHandle{WriteExt: true}

// EncodeBody encodes the request body as msgpack.
func (r *Request) EncodeBody() ([]byte, error) {
	var out []byte
	enc := codec.NewEncoderBytes(&out, msgpackHandle)
	if err := enc.Encode(requestBody{SpaceID: r.SpaceID, Key: r.Key, Tuple: r.Tuple}); err != nil {
		return nil, fmt.Errorf("xrow: failed to encode %s request: %w", r.Type, err)
	}
	return out, nil
}

// DecodeRequest rebuilds a request from a log row.
func DecodeRequest(h *Header) (*Request, error) {
	var body requestBody
	dec := codec.NewDecoderBytes(h.Body, msgpackHandle)
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("xrow: failed to decode row LSN %d: %w", h.LSN, err)
	}
	return &Request{
		Type:    h.Type,
		SpaceID: body.SpaceID,
		Key:     body.Key,
		Tuple:   body.Tuple,
		Header:  h,
	}, nil
}
