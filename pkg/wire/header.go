// Package wire implements the binary request/response codec exchanged
// between the fan-out coordinator and a shard: a varint header followed by
// an inlined-table payload for each command kind, inside a length-prefixed,
// CRC32-checked frame — the same fixed-width length+checksum layout
// pkg/storage uses for on-disk chunks.
package wire

import "encoding/binary"

// MsgType identifies which request or response payload follows a Header.
type MsgType uint8

const (
	MsgCreateRequest MsgType = iota + 1
	MsgCreateResponse
	MsgMRangeRequest
	MsgMRangeResponse
	MsgMDelRequest
	MsgMDelResponse
	MsgMGetRequest
	MsgMGetResponse
	MsgQueryIndexRequest
	MsgQueryIndexResponse
	MsgLabelNamesRequest
	MsgLabelNamesResponse
	MsgLabelValuesRequest
	MsgLabelValuesResponse
	MsgCardinalityRequest
	MsgCardinalityResponse
	MsgStatsRequest
	MsgStatsResponse
	MsgErrorResponse
)

// Header is every message's fixed prefix: the fan-out RequestID, the target
// DB/shard index, the payload's MsgType, and a reserved byte for future
// protocol versioning.
type Header struct {
	RequestID uint64
	DB        int64
	Type      MsgType
	Reserved  uint8
}

// AppendHeader appends h's varint-encoded fields to buf and returns the
// extended slice.
func AppendHeader(buf []byte, h Header) []byte {
	buf = binary.AppendUvarint(buf, h.RequestID)
	buf = binary.AppendVarint(buf, h.DB)
	buf = append(buf, byte(h.Type), h.Reserved)
	return buf
}

// ReadHeader decodes a Header from the front of data, returning the header
// and the number of bytes consumed.
func ReadHeader(data []byte) (Header, int, error) {
	var h Header
	n := 0

	reqID, m := binary.Uvarint(data[n:])
	if m <= 0 {
		return Header{}, 0, errTruncated("RequestID")
	}
	h.RequestID = reqID
	n += m

	db, m := binary.Varint(data[n:])
	if m <= 0 {
		return Header{}, 0, errTruncated("DB")
	}
	h.DB = db
	n += m

	if len(data) < n+2 {
		return Header{}, 0, errTruncated("Type/Reserved")
	}
	h.Type = MsgType(data[n])
	h.Reserved = data[n+1]
	n += 2

	return h, n, nil
}
