package bridge

import (
	"fmt"
	"strings"
)

// Output descriptor checksums, as specified in BIP 380 and implemented
// by Bitcoin Core. Wallets refuse descriptors with a bad or missing
// checksum, so the strings the tooling hands out must carry one.

const descInputCharset = "0123456789()[],'/*abcdefgh@:$%{}IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "

const descChecksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var descGenerator = [5]uint64{
	0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a, 0x644d626ffd,
}

func descsumPolymod(symbols []uint64) uint64 {
	chk := uint64(1)
	for _, value := range symbols {
		top := chk >> 35
		chk = (chk&0x7ffffffff)<<5 ^ value
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 != 0 {
				chk ^= descGenerator[i]
			}
		}
	}
	return chk
}

// descsumExpand maps the descriptor string into the symbol alphabet:
// the low five bits of each character index pass through, the top bits
// are folded in as an extra symbol per group of three characters.
func descsumExpand(s string) ([]uint64, error) {
	var groups []uint64
	var symbols []uint64
	for i, c := range s {
		pos := strings.IndexRune(descInputCharset, c)
		if pos < 0 {
			return nil, fmt.Errorf("bridge: character %q at %d not valid in a descriptor", c, i)
		}
		symbols = append(symbols, uint64(pos)&31)
		groups = append(groups, uint64(pos)>>5)
		if len(groups) == 3 {
			symbols = append(symbols, groups[0]*9+groups[1]*3+groups[2])
			groups = groups[:0]
		}
	}
	switch len(groups) {
	case 1:
		symbols = append(symbols, groups[0])
	case 2:
		symbols = append(symbols, groups[0]*3+groups[1])
	}
	return symbols, nil
}

// DescriptorChecksum computes the eight-character checksum for a
// descriptor body (everything before the '#').
func DescriptorChecksum(desc string) (string, error) {
	symbols, err := descsumExpand(desc)
	if err != nil {
		return "", err
	}
	symbols = append(symbols, 0, 0, 0, 0, 0, 0, 0, 0)
	checksum := descsumPolymod(symbols) ^ 1

	var out [8]byte
	for i := 0; i < 8; i++ {
		out[i] = descChecksumCharset[(checksum>>uint(5*(7-i)))&31]
	}
	return string(out[:]), nil
}

// WithChecksum appends "#checksum" to a descriptor body.
func WithChecksum(desc string) (string, error) {
	sum, err := DescriptorChecksum(desc)
	if err != nil {
		return "", err
	}
	return desc + "#" + sum, nil
}

// TrDescriptor renders a checksummed tr() descriptor around the given
// key expression, e.g. "[f00dbabe/86'/0'/0']xprv.../0/*".
func TrDescriptor(keyExpr string) (string, error) {
	return WithChecksum("tr(" + keyExpr + ")")
}
