package common

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSha256d(t *testing.T) {
	// double SHA-256 of "hello"
	want := HexToHash("0x9595c9df90075148eb06860365df33584b75bff782a510c6cd4883a419833d50")
	got := Sha256d([]byte("hello"))
	assert.Equal(t, want, got)
}

func TestHashJSONRoundTrip(t *testing.T) {
	h := Sha256([]byte("roundtrip"))
	b, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var h2 Hash
	if err := json.Unmarshal(b, &h2); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	assert.Equal(t, h, h2)
}

func TestUintCodecs(t *testing.T) {
	assert.Equal(t, uint32(0xdeadbeef), BytesToUint32BE(Uint32ToBytesBE(0xdeadbeef)))
	assert.Equal(t, uint64(1<<40), BytesToUint64BE(Uint64ToBytesBE(1<<40)))
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc}, Reverse([]byte{0xcc, 0xbb, 0xaa}))
}
