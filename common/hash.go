package common

import (
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// Sha256 computes the single SHA-256 hash of the given data.
func Sha256(data []byte) Hash {
	h := sha256.Sum256(data)
	return Hash(h)
}

// Sha256d computes the double SHA-256 hash used throughout Bitcoin.
func Sha256d(data []byte) Hash {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return Hash(second)
}

func Keccak256(data []byte) Hash {
	hash := sha3.NewLegacyKeccak256()
	hash.Write(data)
	h := hash.Sum(nil)
	return BytesToHash(h)
}

// Consensus commitments serialize integers big-endian.

func Uint64ToBytesBE(val uint64) []byte {
	bytes := make([]byte, 8)
	binary.BigEndian.PutUint64(bytes, val)
	return bytes
}

func Uint32ToBytesBE(val uint32) []byte {
	bytes := make([]byte, 4)
	binary.BigEndian.PutUint32(bytes, val)
	return bytes
}

func BytesToUint32BE(data []byte) uint32 {
	if len(data) < 4 {
		panic("BytesToUint32BE: byte slice too short")
	}
	return binary.BigEndian.Uint32(data)
}

func BytesToUint64BE(data []byte) uint64 {
	if len(data) < 8 {
		panic("BytesToUint64BE: byte slice too short")
	}
	return binary.BigEndian.Uint64(data)
}

// Storage keys order numerically under big-endian encoding, which keeps
// leveldb range scans in index order.

func Uint64Key(val uint64) []byte {
	return Uint64ToBytesBE(val)
}

func IsNilHash(h Hash) bool {
	return h == Hash{}
}

// Reverse returns a copy of b with the byte order flipped. Bitcoin block and
// tx hashes display in the reverse of their wire order.
func Reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}
