package consensus

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20"

	"github.com/alpenlabs/strata-sub002/common"
)

var slotRngTag = []byte("strata-slot-rng-v1")

// SlotRng is the deterministic RNG behind withdrawal assignment. Every
// node seeds it from the same slot context and must draw the same
// sequence, so the keystream source and the draw order are consensus
// rules, not implementation details.
type SlotRng struct {
	cipher *chacha20.Cipher
}

// NewSlotRng builds the RNG from a 32-byte seed. The keystream is
// chacha20 under the seed with a zero nonce.
func NewSlotRng(seed common.Hash) *SlotRng {
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(seed.Bytes(), nonce[:])
	if err != nil {
		// only reachable with wrong key/nonce sizes, which are fixed here
		panic(err)
	}
	return &SlotRng{cipher: c}
}

// SlotRngSeed derives the per-slot seed from the slot number and the
// anchor commitment (the chainstate's safe L1 block id).
func SlotRngSeed(slot uint64, anchor common.Hash) common.Hash {
	buf := make([]byte, 0, len(slotRngTag)+8+32)
	buf = append(buf, slotRngTag...)
	buf = binary.BigEndian.AppendUint64(buf, slot)
	buf = append(buf, anchor.Bytes()...)
	return common.Sha256(buf)
}

func (r *SlotRng) NextU32() uint32 {
	var out [4]byte
	r.cipher.XORKeyStream(out[:], out[:])
	return binary.LittleEndian.Uint32(out[:])
}

func (r *SlotRng) NextU64() uint64 {
	var out [8]byte
	r.cipher.XORKeyStream(out[:], out[:])
	return binary.LittleEndian.Uint64(out[:])
}

// PickUniform draws uniformly from [0, n) without modulo bias, by
// rejection sampling over the largest multiple of n below 2^32.
func (r *SlotRng) PickUniform(n uint32) uint32 {
	if n == 0 {
		panic("consensus: PickUniform(0)")
	}
	limit := (uint64(1) << 32) / uint64(n) * uint64(n)
	for {
		v := r.NextU32()
		if uint64(v) < limit {
			return v % n
		}
	}
}
