package wire

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/chronoshard/tsdb/pkg/tsdberr"
)

// maxFrameSize caps a single frame's payload so a corrupt or hostile length
// prefix cannot make the reader allocate without bound.
const maxFrameSize = 64 << 20

// WriteFrame writes one length-prefixed, checksummed frame to w: a
// little-endian uint32 payload length, the payload itself, and a trailing
// little-endian CRC32 (IEEE) of the payload. Both sides of the fan-out
// boundary — fanout.NetTransport on the coordinator side and Server on the
// shard side — speak exactly this framing.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], crc32.ChecksumIEEE(payload))
	_, err := w.Write(footer[:])
	return err
}

// ReadFrame reads one frame written by WriteFrame, verifying its checksum.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(header[:])
	if length > maxFrameSize {
		return nil, tsdberr.New(tsdberr.InternalCodecError, "wire: frame length %d exceeds limit", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	var footer [4]byte
	if _, err := io.ReadFull(r, footer[:]); err != nil {
		return nil, err
	}
	want := binary.LittleEndian.Uint32(footer[:])
	if got := crc32.ChecksumIEEE(payload); got != want {
		return nil, tsdberr.New(tsdberr.InternalCodecError, "wire: frame checksum mismatch: got %x want %x", got, want)
	}
	return payload, nil
}
