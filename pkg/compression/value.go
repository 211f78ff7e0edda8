package compression

import (
	"math"
	"math/bits"
)

// ValueEncoder XOR-compresses a stream of float64 samples, following the
// Gorilla paper: each value is XORed against the previous one, and runs of
// samples sharing the same leading/trailing zero-run reuse the prior
// control bits.
type ValueEncoder struct {
	bw                *bitWriter
	prev              uint64
	leading, trailing uint8
	n                 int
}

// NewValueEncoder returns an encoder ready to accept its first sample.
func NewValueEncoder() *ValueEncoder {
	return &ValueEncoder{bw: newBitWriter(32)}
}

// Encode appends v.
func (e *ValueEncoder) Encode(v float64) error {
	bits64 := math.Float64bits(v)

	if e.n == 0 {
		e.prev = bits64
		e.bw.writeBits(bits64, 64)
		e.n++
		return nil
	}

	xor := bits64 ^ e.prev
	e.prev = bits64
	e.n++

	if xor == 0 {
		e.bw.writeBit(0)
		return nil
	}
	e.bw.writeBit(1)

	lead := uint8(bits.LeadingZeros64(xor))
	trail := uint8(bits.TrailingZeros64(xor))
	if lead > 31 {
		lead = 31 // the leading-zero count is written in 5 bits
	}

	if lead >= e.leading && trail >= e.trailing && e.leading+e.trailing > 0 {
		size := blockSize(e.leading, e.trailing)
		block := (xor >> e.trailing) & ((uint64(1) << size) - 1)
		e.bw.writeBit(0)
		e.bw.writeBits(block, size)
		return nil
	}

	e.bw.writeBit(1)
	e.bw.writeBits(uint64(lead), 5)
	size := blockSize(lead, trail)
	e.bw.writeBits(uint64(size), 6)
	block := (xor >> trail) & ((uint64(1) << size) - 1)
	e.bw.writeBits(block, size)
	e.leading, e.trailing = lead, trail
	return nil
}

// blockSize returns the number of significant bits between a leading and
// trailing zero run. A full 64-bit block is written as 0 in the 6-bit size
// field and read back as 64.
func blockSize(leading, trailing uint8) uint8 {
	return 64 - leading - trailing
}

// Finish seals the stream and returns the encoded bytes.
func (e *ValueEncoder) Finish() ([]byte, error) {
	return e.bw.bytes(), nil
}

// Count returns the number of values encoded so far.
func (e *ValueEncoder) Count() int { return e.n }

// ValueDecoder reverses ValueEncoder.
type ValueDecoder struct {
	br                *bitReader
	prev              uint64
	leading, trailing uint8
	n                 int
}

// NewValueDecoder returns a decoder over a buffer produced by
// ValueEncoder.Finish.
func NewValueDecoder(data []byte) *ValueDecoder {
	return &ValueDecoder{br: newBitReader(data)}
}

// Decode returns the next value in the stream.
func (d *ValueDecoder) Decode() (float64, error) {
	if d.n == 0 {
		val, err := d.br.readBits(64)
		if err != nil {
			return 0, err
		}
		d.prev = val
		d.n++
		return math.Float64frombits(val), nil
	}

	ctrl, err := d.br.readBit()
	if err != nil {
		return 0, err
	}
	var xor uint64
	if ctrl == 1 {
		reuse, err := d.br.readBit()
		if err != nil {
			return 0, err
		}
		if reuse == 0 {
			size := blockSize(d.leading, d.trailing)
			block, err := d.br.readBits(size)
			if err != nil {
				return 0, err
			}
			xor = block << d.trailing
		} else {
			lead, err := d.br.readBits(5)
			if err != nil {
				return 0, err
			}
			size, err := d.br.readBits(6)
			if err != nil {
				return 0, err
			}
			if size == 0 {
				size = 64
			}
			block, err := d.br.readBits(uint8(size))
			if err != nil {
				return 0, err
			}
			d.leading = uint8(lead)
			d.trailing = 64 - d.leading - uint8(size)
			xor = block << d.trailing
		}
	}
	d.prev ^= xor
	d.n++
	return math.Float64frombits(d.prev), nil
}

// DecodeAll decodes count values.
func (d *ValueDecoder) DecodeAll(count int) ([]float64, error) {
	out := make([]float64, 0, count)
	for i := 0; i < count; i++ {
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Count returns the number of values decoded so far.
func (d *ValueDecoder) Count() int { return d.n }
