package alloc

import "errors"

// ErrCorruptRunlist is returned when a runlist's header byte or offset/length
// fields cannot be decoded within bounds.
var ErrCorruptRunlist = errors.New("alloc: corrupt NTFS runlist")

// Run is one decoded NTFS data-run: Length clusters starting at LCN (absolute
// logical cluster number). Sparse is true for a hole (LCN is meaningless).
type Run struct {
	LCN    int64
	Length uint64
	Sparse bool
}

// DecodeRunlist decodes an NTFS non-resident attribute's data-run list
// starting at buf[0], terminated by a 0x00 header byte. The header byte
// encodes field widths as (offsetBytes<<4 | lengthBytes); the offset field,
// when present, is signed and relative to the previous run's LCN. A header
// byte with a zero offset-byte-count denotes a sparse run.
func DecodeRunlist(buf []byte) ([]Run, error) {
	var runs []Run
	lcn := int64(0)
	pos := 0
	for pos < len(buf) {
		header := buf[pos]
		if header == 0 {
			return runs, nil
		}
		lengthBytes := int(header & 0x0F)
		offsetBytes := int(header >> 4)
		pos++

		if lengthBytes == 0 || pos+lengthBytes > len(buf) {
			return nil, ErrCorruptRunlist
		}
		length := decodeUnsigned(buf[pos : pos+lengthBytes])
		pos += lengthBytes

		run := Run{Length: length}
		if offsetBytes == 0 {
			run.Sparse = true
		} else {
			if pos+offsetBytes > len(buf) {
				return nil, ErrCorruptRunlist
			}
			delta := decodeSigned(buf[pos : pos+offsetBytes])
			pos += offsetBytes
			lcn += delta
			run.LCN = lcn
		}
		runs = append(runs, run)
	}
	// buffer ended without a terminating 0 byte
	return nil, ErrCorruptRunlist
}

// EncodeRunlist is the inverse of DecodeRunlist; encode(decode(r)) is
// byte-for-byte identical to the minimal-width encoding of r.
func EncodeRunlist(runs []Run) []byte {
	var buf []byte
	prevLCN := int64(0)
	for _, r := range runs {
		lengthBytes := minUnsignedBytes(r.Length)
		lenField := encodeUnsigned(r.Length, lengthBytes)

		var offsetBytes int
		var offField []byte
		if !r.Sparse {
			delta := r.LCN - prevLCN
			offsetBytes = minSignedBytes(delta)
			offField = encodeSigned(delta, offsetBytes)
			prevLCN = r.LCN
		}

		header := byte(offsetBytes<<4 | lengthBytes)
		buf = append(buf, header)
		buf = append(buf, lenField...)
		buf = append(buf, offField...)
	}
	buf = append(buf, 0x00)
	return buf
}

func decodeUnsigned(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func decodeSigned(b []byte) int64 {
	v := decodeUnsigned(b)
	// sign-extend from the top bit of the most significant supplied byte
	if len(b) > 0 && b[len(b)-1]&0x80 != 0 {
		for i := len(b); i < 8; i++ {
			v |= 0xFF << (8 * i)
		}
	}
	return int64(v)
}

func minUnsignedBytes(v uint64) int {
	n := 0
	for v > 0 {
		n++
		v >>= 8
	}
	if n == 0 {
		n = 1
	}
	return n
}

func encodeUnsigned(v uint64, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

func minSignedBytes(v int64) int {
	n := 1
	for {
		// value must fit signed in n bytes: [-2^(8n-1), 2^(8n-1)-1]
		lo := -(int64(1) << (8*n - 1))
		hi := (int64(1) << (8*n - 1)) - 1
		if v >= lo && v <= hi {
			return n
		}
		n++
		if n > 8 {
			return 8
		}
	}
}

func encodeSigned(v int64, n int) []byte {
	out := make([]byte, n)
	uv := uint64(v)
	for i := 0; i < n; i++ {
		out[i] = byte(uv)
		uv >>= 8
	}
	return out
}
