package bridge

import (
	"encoding/hex"
	"fmt"
	"math/bits"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// bip341NumsHex is the BIP 341 "nothing up my sleeve" point. Outputs
// built over it are spendable through script paths only.
const bip341NumsHex = "50929b74c1a04954b78b4b6035e97a5e078a5a0f28ec96d547bfee9ace803ac0"

// UnspendableInternalKey returns the standard provably-unspendable
// internal key.
func UnspendableInternalKey() *btcec.PublicKey {
	raw, err := hex.DecodeString(bip341NumsHex)
	if err != nil {
		panic(err)
	}
	key, err := schnorr.ParsePubKey(raw)
	if err != nil {
		panic(err)
	}
	return key
}

type weightedTapNode struct {
	node  txscript.TapNode
	depth int
}

// BuildScriptTree lays the scripts out as a complete binary tree of
// depth ceil(log2 n): the deepest level is filled left to right
// starting from script 0, the remainder sits one level up. Every
// operator rebuilds this layout independently from the same script
// list, so leaf placement is consensus-relevant and must not change.
func BuildScriptTree(scripts [][]byte) (txscript.TapNode, error) {
	n := len(scripts)
	if n == 0 {
		return nil, ErrEmptyTapscript
	}
	if n == 1 {
		return txscript.NewBaseTapLeaf(scripts[0]), nil
	}

	maxDepth := bits.Len(uint(n - 1)) // ceil(log2 n) for n >= 2
	deepest := 2*n - (1 << maxDepth)

	var stack []weightedTapNode
	push := func(w weightedTapNode) {
		stack = append(stack, w)
		for len(stack) >= 2 {
			a := stack[len(stack)-2]
			b := stack[len(stack)-1]
			if a.depth != b.depth {
				break
			}
			stack = stack[:len(stack)-2]
			branch := txscript.NewTapBranch(a.node, b.node)
			stack = append(stack, weightedTapNode{node: branch, depth: a.depth - 1})
		}
	}

	for i, script := range scripts {
		depth := maxDepth
		if i >= deepest {
			depth = maxDepth - 1
		}
		push(weightedTapNode{node: txscript.NewBaseTapLeaf(script), depth: depth})
	}

	if len(stack) != 1 || stack[0].depth != 0 {
		return nil, fmt.Errorf("bridge: script tree did not reduce to a root (%d nodes left)", len(stack))
	}
	return stack[0].node, nil
}

// CreateTaprootAddr derives the bridge's taproot address.
//
// With no scripts the address commits to internalKey directly, with no
// further tweak: the key is already the randomized MuSig2 aggregate, so
// the usual tweak over an unspendable key would only burn a point
// addition and break compatibility with the other operators' addresses.
//
// With scripts, the internal key (or the unspendable key when nil) is
// tweaked by the script tree root in the ordinary BIP 341 way.
func CreateTaprootAddr(net *chaincfg.Params, internalKey *btcec.PublicKey, scripts [][]byte) (*btcutil.AddressTaproot, error) {
	if len(scripts) == 0 {
		if internalKey == nil {
			return nil, ErrEmptyTapscript
		}
		return btcutil.NewAddressTaproot(schnorr.SerializePubKey(internalKey), net)
	}

	if internalKey == nil {
		internalKey = UnspendableInternalKey()
	}
	root, err := BuildScriptTree(scripts)
	if err != nil {
		return nil, err
	}
	rootHash := root.TapHash()
	outputKey := txscript.ComputeTaprootOutputKey(internalKey, rootHash[:])
	return btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), net)
}

// TaprootPkScript renders the scriptPubKey for a taproot address.
func TaprootPkScript(addr btcutil.Address) ([]byte, error) {
	if _, ok := addr.(*btcutil.AddressTaproot); !ok {
		return nil, ErrNotTaprootAddress
	}
	return txscript.PayToAddrScript(addr)
}
