package tarfile

import (
	"bytes"
	"fmt"
	"strconv"
)

// nts reads a NUL terminated string field.
func nts(s []byte) string {
	if p := bytes.IndexByte(s, NUL); p != -1 {
		s = s[:p]
	}
	return string(s)
}

// stn writes s into the field dst, NUL padding the remainder. The caller has
// already checked that s fits.
func stn(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = NUL
	}
}

// nti decodes a numeric field, either NUL/space terminated octal or base-256
// when the high bit of the first byte is set.
func nti(s []byte) (uint64, error) {
	if len(s) > 0 && s[0]&0x80 != 0 {
		if s[0] == 0xFF {
			return 0, fmt.Errorf("negative base-256 value")
		}
		n := uint64(s[0] & 0x7F)
		for i, b := range s[1:] {
			// Anything left in the top byte would shift out of 64 bits.
			if n>>56 != 0 {
				return 0, fmt.Errorf("base-256 value overflows at byte %d", i+1)
			}
			n = n<<8 | uint64(b)
		}
		return n, nil
	}
	str := string(bytes.Trim(s, " \x00"))
	if str == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(str, 8, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid octal number %q", str)
	}
	return n, nil
}

// itn encodes n into dst as octal with a trailing NUL. Values too large for
// octal fall back to base-256 in the GNU dialect; any other overflow is an
// error, never a truncation.
func itn(dst []byte, n uint64, format Format, field string) error {
	digits := len(dst) - 1
	if digits*3 >= 64 || n < uint64(1)<<(uint(digits)*3) {
		copy(dst, fmt.Sprintf("%0*o", digits, n))
		dst[digits] = NUL
		return nil
	}
	if format == FormatGNU {
		// Seven bits in the flag byte are left unused for simplicity.
		if digits*8 >= 64 || n < uint64(1)<<(uint(digits)*8) {
			dst[0] = 0x80
			for i := len(dst) - 1; i > 0; i-- {
				dst[i] = byte(n)
				n >>= 8
			}
			return nil
		}
	}
	return NewFieldOverflowError(field, n)
}

// calcChecksum returns the unsigned and signed sums of block with the
// checksum field counted as eight spaces. Some historical writers used the
// signed sum, so readers accept either.
func calcChecksum(block []byte) (unsigned uint64, signed int64) {
	for i, b := range block {
		if i >= offChksum && i < offChksum+8 {
			b = ' '
		}
		unsigned += uint64(b)
		signed += int64(int8(b))
	}
	return unsigned, signed
}

// blockPadding returns the number of zero bytes that follow a body of size
// bytes.
func blockPadding(size int64) int64 {
	return -size & (BLOCKSIZE - 1)
}

// isZeroBlock reports whether every byte of block is NUL.
func isZeroBlock(block []byte) bool {
	for _, b := range block {
		if b != NUL {
			return false
		}
	}
	return true
}
