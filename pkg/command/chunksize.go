package command

import "github.com/chronoshard/tsdb/pkg/tsdberr"

// MinChunkSize and MaxChunkSize bound a CREATE command's CHUNK_SIZE
// argument: an integer in [MinChunkSize, MaxChunkSize], multiple of 8.
// The bounds match the usual order of magnitude for compressed
// time-series chunk encodings: tens of bytes minimum, one megabyte
// ceiling.
const (
	MinChunkSize = 48
	MaxChunkSize = 1 << 20
)

// ValidateChunkSize rejects a CHUNK_SIZE outside [MinChunkSize,
// MaxChunkSize] or not a multiple of 8.
func ValidateChunkSize(n int) error {
	if n < MinChunkSize || n > MaxChunkSize || n%8 != 0 {
		return tsdberr.New(tsdberr.ArgumentError,
			"CHUNK_SIZE value must be an integer multiple of 8 in the range [%d .. %d]", MinChunkSize, MaxChunkSize)
	}
	return nil
}
