package storage

import "encoding/binary"

// Key prefixes. Every store stays inside its prefix; fixed-width
// big-endian suffixes keep iteration order equal to logical order.
var (
	prefixSyncEvent    = []byte("se") // se ‖ be64(idx) → sync event envelope
	prefixClientUpdate = []byte("cu") // cu ‖ be64(idx) → ClientUpdateOutput
	prefixStateCkpt    = []byte("sk") // sk ‖ be64(idx) → ClientState snapshot
	prefixL2Block      = []byte("l2") // l2 ‖ blkid → L2Block
	prefixL2Height     = []byte("lh") // lh ‖ be64(slot) ‖ blkid → nil
	prefixManifest     = []byte("mf") // mf ‖ blkid → L1BlockManifest
	prefixManifestIdx  = []byte("mh") // mh ‖ be64(height) → blkid
	prefixChainstate   = []byte("cs") // cs ‖ be64(slot) → Chainstate
	prefixCheckpoint   = []byte("cp") // cp ‖ be64(epoch) → CheckpointEntry
	prefixProof        = []byte("pf") // pf ‖ proof key → ProofReceipt
	prefixProofDeps    = []byte("pd") // pd ‖ proof context → []ProofContext
	prefixPayload      = []byte("pl") // pl ‖ be64(idx) → PayloadEntry
	prefixIntentIdx    = []byte("pi") // pi ‖ intent hash → be64(idx)
	prefixBridgeTx     = []byte("bt") // bt ‖ txid → BridgeTxState
)

func keyIdx(prefix []byte, idx uint64) []byte {
	out := make([]byte, 0, len(prefix)+8)
	out = append(out, prefix...)
	return binary.BigEndian.AppendUint64(out, idx)
}

func keyBytes(prefix, suffix []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(suffix))
	out = append(out, prefix...)
	return append(out, suffix...)
}

// idxFromKey reads the final 8 bytes of a prefixed index key.
func idxFromKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
