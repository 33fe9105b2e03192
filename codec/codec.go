// Copyright (c) 2024 The lua-redis-wasm developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package codec implements the compact binary reply and request framing used
// on both directions of the host/guest boundary.
//
// A reply frame is a 1-byte kind tag followed by a 32-bit little-endian
// count-or-length field and a tag-dependent payload.  A request frame is a
// 32-bit little-endian item count followed by that many length-prefixed byte
// strings.  All multi-byte integers on the wire are little-endian; signed
// 64-bit integers are two's-complement.
package codec

import (
	"encoding/binary"
	"fmt"
)

// ReplyKind identifies the variant carried by a reply frame.
type ReplyKind byte

// The six reply kinds defined by the wire format.
const (
	NullReply   ReplyKind = 0x00
	IntReply    ReplyKind = 0x01
	BulkReply   ReplyKind = 0x02
	ArrayReply  ReplyKind = 0x03
	StatusReply ReplyKind = 0x04
	ErrorReply  ReplyKind = 0x05
)

// String returns the ReplyKind as a human-readable name.
func (k ReplyKind) String() string {
	switch k {
	case NullReply:
		return "NULL"
	case IntReply:
		return "INT"
	case BulkReply:
		return "BULK"
	case ArrayReply:
		return "ARRAY"
	case StatusReply:
		return "STATUS"
	case ErrorReply:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", byte(k))
	}
}

const (
	// HeaderSize is the fixed size of a reply frame header: the kind tag
	// plus the count-or-length field.
	HeaderSize = 5

	// IntPayloadSize is the payload size of an IntReply frame.
	IntPayloadSize = 8

	// MaxDecodeDepth bounds array recursion while decoding a reply frame.
	// Frames nested beyond it are rejected rather than risking stack
	// exhaustion on adversarial input.
	MaxDecodeDepth = 64
)

// Reply is a decoded reply value.  Int is meaningful for IntReply, Bulk for
// BulkReply, StatusReply and ErrorReply, and Array for ArrayReply.  Replies
// are finite trees; arrays nest recursively.
type Reply struct {
	Kind  ReplyKind
	Int   int64
	Bulk  []byte
	Array []Reply
}

// AppendHeader appends a 5-byte frame header to dst and returns the extended
// buffer.
func AppendHeader(dst []byte, kind ReplyKind, countOrLen uint32) []byte {
	dst = append(dst, byte(kind))
	return binary.LittleEndian.AppendUint32(dst, countOrLen)
}

// AppendNull appends a NullReply frame to dst.
func AppendNull(dst []byte) []byte {
	return AppendHeader(dst, NullReply, 0)
}

// AppendInt appends an IntReply frame carrying v to dst.
func AppendInt(dst []byte, v int64) []byte {
	dst = AppendHeader(dst, IntReply, IntPayloadSize)
	return binary.LittleEndian.AppendUint64(dst, uint64(v))
}

// AppendBulk appends a BulkReply frame carrying payload to dst.
func AppendBulk(dst []byte, payload []byte) []byte {
	dst = AppendHeader(dst, BulkReply, uint32(len(payload)))
	return append(dst, payload...)
}

// AppendStatus appends a StatusReply frame carrying msg to dst.
func AppendStatus(dst []byte, msg string) []byte {
	dst = AppendHeader(dst, StatusReply, uint32(len(msg)))
	return append(dst, msg...)
}

// AppendError appends an ErrorReply frame carrying msg to dst.
func AppendError(dst []byte, msg string) []byte {
	dst = AppendHeader(dst, ErrorReply, uint32(len(msg)))
	return append(dst, msg...)
}

// Append appends the full frame for r, recursing into array children in
// order, and returns the extended buffer.
func (r Reply) Append(dst []byte) []byte {
	switch r.Kind {
	case NullReply:
		return AppendNull(dst)
	case IntReply:
		return AppendInt(dst, r.Int)
	case BulkReply:
		return AppendBulk(dst, r.Bulk)
	case StatusReply:
		dst = AppendHeader(dst, StatusReply, uint32(len(r.Bulk)))
		return append(dst, r.Bulk...)
	case ErrorReply:
		dst = AppendHeader(dst, ErrorReply, uint32(len(r.Bulk)))
		return append(dst, r.Bulk...)
	case ArrayReply:
		dst = AppendHeader(dst, ArrayReply, uint32(len(r.Array)))
		for _, child := range r.Array {
			dst = child.Append(dst)
		}
		return dst
	default:
		// Unreachable for values produced by this package; encode a
		// null frame so the result is still well formed.
		return AppendNull(dst)
	}
}

// Encode returns the encoded frame for r.
func (r Reply) Encode() []byte {
	return r.Append(nil)
}

// Decode reads one reply frame from buf starting at off and returns the
// decoded value along with the offset of the first byte past the frame.
// Malformed input is reported as an Error carrying the specific ErrorCode;
// decoding never reads past len(buf).
func Decode(buf []byte, off int) (Reply, int, error) {
	return decode(buf, off, 0)
}

func decode(buf []byte, off, depth int) (Reply, int, error) {
	if depth > MaxDecodeDepth {
		return Reply{}, off, codecError(ErrNestingTooDeep,
			"reply nesting exceeds decode depth limit")
	}
	if off < 0 || off+HeaderSize > len(buf) {
		return Reply{}, off, codecError(ErrTruncatedHeader,
			"reply frame header is truncated")
	}
	kind := ReplyKind(buf[off])
	countOrLen := binary.LittleEndian.Uint32(buf[off+1 : off+HeaderSize])
	off += HeaderSize

	switch kind {
	case NullReply:
		return Reply{Kind: NullReply}, off, nil

	case IntReply:
		if off+IntPayloadSize > len(buf) {
			return Reply{}, off, codecError(ErrTruncatedPayload,
				"integer reply payload is truncated")
		}
		v := int64(binary.LittleEndian.Uint64(buf[off : off+IntPayloadSize]))
		return Reply{Kind: IntReply, Int: v}, off + IntPayloadSize, nil

	case BulkReply, StatusReply, ErrorReply:
		n := int(countOrLen)
		if n < 0 || off+n > len(buf) {
			return Reply{}, off, codecError(ErrTruncatedPayload,
				fmt.Sprintf("%v reply payload is truncated", kind))
		}
		payload := make([]byte, n)
		copy(payload, buf[off:off+n])
		return Reply{Kind: kind, Bulk: payload}, off + n, nil

	case ArrayReply:
		children := make([]Reply, 0, minInt(int(countOrLen), 16))
		for i := uint32(0); i < countOrLen; i++ {
			child, next, err := decode(buf, off, depth+1)
			if err != nil {
				return Reply{}, off, err
			}
			children = append(children, child)
			off = next
		}
		return Reply{Kind: ArrayReply, Array: children}, off, nil

	default:
		return Reply{}, off, codecError(ErrUnknownReplyKind,
			fmt.Sprintf("unrecognized reply tag 0x%02X", byte(kind)))
	}
}

// BuildRequest encodes items as a request frame: a 32-bit item count, then
// for each item a 32-bit length followed by its bytes.
func BuildRequest(items [][]byte) []byte {
	size := 4
	for _, item := range items {
		size += 4 + len(item)
	}
	dst := make([]byte, 0, size)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(items)))
	for _, item := range items {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(item)))
		dst = append(dst, item...)
	}
	return dst
}

// ParseRequest decodes a request frame into its items.  Each item aliases no
// memory of buf.  Frames whose length fields would read past the end of buf
// are rejected.
func ParseRequest(buf []byte) ([][]byte, error) {
	if len(buf) < 4 {
		return nil, codecError(ErrTruncatedRequest,
			"request frame is missing the item count")
	}
	count := binary.LittleEndian.Uint32(buf)
	off := 4
	items := make([][]byte, 0, minInt(int(count), 16))
	for i := uint32(0); i < count; i++ {
		if off+4 > len(buf) {
			return nil, codecError(ErrTruncatedRequest,
				"request item length field is truncated")
		}
		itemLen := int(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		if itemLen < 0 || off+itemLen > len(buf) {
			return nil, codecError(ErrRequestItemOverflow,
				"request item length exceeds frame size")
		}
		item := make([]byte, itemLen)
		copy(item, buf[off:off+itemLen])
		items = append(items, item)
		off += itemLen
	}
	return items, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
