package compression

import "fmt"

// TimestampEncoder delta-of-delta encodes a strictly ascending stream of
// millisecond timestamps (the Gorilla paper's scheme): the first timestamp
// is stored raw, the second as a plain delta, and every later one as a
// variable-width delta-of-delta code so that a steady sample interval costs
// a single bit per point.
type TimestampEncoder struct {
	bw    *bitWriter
	t0    int64
	prev  int64
	delta int64
	n     int
}

// NewTimestampEncoder returns an encoder ready to accept its first sample.
func NewTimestampEncoder() *TimestampEncoder {
	return &TimestampEncoder{bw: newBitWriter(32)}
}

// Encode appends t, which must be strictly greater than the previous
// timestamp passed to Encode.
func (e *TimestampEncoder) Encode(t int64) error {
	switch e.n {
	case 0:
		e.t0 = t
		e.prev = t
		e.bw.writeBits(uint64(t), 64)
	case 1:
		e.delta = t - e.prev
		e.prev = t
		e.bw.writeBits(uint64(e.delta), 64)
	default:
		delta := t - e.prev
		dod := delta - e.delta
		e.delta = delta
		e.prev = t
		writeDoD(e.bw, dod)
	}
	e.n++
	return nil
}

// writeDoD writes a delta-of-delta using the Gorilla control-bit ladder:
// 0 -> '0'; [-63,64] -> '10'+7 bits; [-255,256] -> '110'+9 bits;
// [-2047,2048] -> '1110'+12 bits; else -> '1111'+32 bits.
func writeDoD(bw *bitWriter, dod int64) {
	switch {
	case dod == 0:
		bw.writeBit(0)
	case dod >= -63 && dod <= 64:
		bw.writeBits(0b10, 2)
		bw.writeBits(uint64(dod)&0x7F, 7)
	case dod >= -255 && dod <= 256:
		bw.writeBits(0b110, 3)
		bw.writeBits(uint64(dod)&0x1FF, 9)
	case dod >= -2047 && dod <= 2048:
		bw.writeBits(0b1110, 4)
		bw.writeBits(uint64(dod)&0xFFF, 12)
	default:
		bw.writeBits(0b1111, 4)
		bw.writeBits(uint64(dod)&0xFFFFFFFF, 32)
	}
}

// Finish seals the stream and returns the encoded bytes.
func (e *TimestampEncoder) Finish() ([]byte, error) {
	return e.bw.bytes(), nil
}

// Count returns the number of timestamps encoded so far.
func (e *TimestampEncoder) Count() int { return e.n }

// TimestampDecoder reverses TimestampEncoder.
type TimestampDecoder struct {
	br    *bitReader
	t0    int64
	prev  int64
	delta int64
	n     int
}

// NewTimestampDecoder returns a decoder over a buffer produced by
// TimestampEncoder.Finish.
func NewTimestampDecoder(data []byte) *TimestampDecoder {
	return &TimestampDecoder{br: newBitReader(data)}
}

// Decode returns the next timestamp in the stream.
func (d *TimestampDecoder) Decode() (int64, error) {
	switch d.n {
	case 0:
		val, err := d.br.readBits(64)
		if err != nil {
			return 0, err
		}
		d.t0 = int64(val)
		d.prev = d.t0
		d.n++
		return d.prev, nil
	case 1:
		val, err := d.br.readBits(64)
		if err != nil {
			return 0, err
		}
		d.delta = int64(val)
		d.prev += d.delta
		d.n++
		return d.prev, nil
	default:
		dod, err := readDoD(d.br)
		if err != nil {
			return 0, err
		}
		d.delta += dod
		d.prev += d.delta
		d.n++
		return d.prev, nil
	}
}

func readDoD(br *bitReader) (int64, error) {
	b1, err := br.readBit()
	if err != nil {
		return 0, err
	}
	if b1 == 0 {
		return 0, nil
	}
	b2, err := br.readBit()
	if err != nil {
		return 0, err
	}
	if b2 == 0 {
		val, err := br.readBits(7)
		if err != nil {
			return 0, err
		}
		dod := int64(val)
		if dod > 64 {
			dod -= 128
		}
		return dod, nil
	}
	b3, err := br.readBit()
	if err != nil {
		return 0, err
	}
	if b3 == 0 {
		val, err := br.readBits(9)
		if err != nil {
			return 0, err
		}
		dod := int64(val)
		if dod > 256 {
			dod -= 512
		}
		return dod, nil
	}
	b4, err := br.readBit()
	if err != nil {
		return 0, err
	}
	if b4 == 0 {
		val, err := br.readBits(12)
		if err != nil {
			return 0, err
		}
		dod := int64(val)
		if dod > 2048 {
			dod -= 4096
		}
		return dod, nil
	}
	val, err := br.readBits(32)
	if err != nil {
		return 0, err
	}
	return int64(int32(val)), nil
}

// DecodeAll decodes count timestamps.
func (d *TimestampDecoder) DecodeAll(count int) ([]int64, error) {
	out := make([]int64, 0, count)
	for i := 0; i < count; i++ {
		t, err := d.Decode()
		if err != nil {
			return nil, fmt.Errorf("compression: decode timestamp %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Count returns the number of timestamps decoded so far.
func (d *TimestampDecoder) Count() int { return d.n }
