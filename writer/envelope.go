package writer

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/alpenlabs/strata-sub002/bridge"
	"github.com/alpenlabs/strata-sub002/l1"
)

// BuildEnvelopeScript renders the reveal-leaf tapscript:
//
//	OP_FALSE OP_IF <magic> <version> <chunk>... OP_ENDIF <key> OP_CHECKSIG
//
// The envelope layout must stay bit-compatible with
// l1.ParseEnvelopePayloads, which every node runs over reveal witnesses.
func BuildEnvelopeScript(magic []byte, payload []byte, revealKey *btcec.PublicKey) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_FALSE)
	b.AddOp(txscript.OP_IF)
	b.AddData(magic)
	b.AddData([]byte{l1.EnvelopeVersion})
	for off := 0; off < len(payload); off += txscript.MaxScriptElementSize {
		end := off + txscript.MaxScriptElementSize
		if end > len(payload) {
			end = len(payload)
		}
		b.AddData(payload[off:end])
	}
	b.AddOp(txscript.OP_ENDIF)
	b.AddData(schnorr.SerializePubKey(revealKey))
	b.AddOp(txscript.OP_CHECKSIG)
	return b.Script()
}

// EnvelopeAddr is the commit output address: a taproot output with the
// envelope script as its only leaf over the unspendable internal key.
func EnvelopeAddr(net *chaincfg.Params, script []byte) (*btcutil.AddressTaproot, error) {
	return bridge.CreateTaprootAddr(net, nil, [][]byte{script})
}

// envelopeWitness assembles the reveal input witness: a tapscript
// signature for the envelope leaf, the leaf script, and its control
// block.
func envelopeWitness(reveal *wire.MsgTx, commitOut *wire.TxOut, script []byte,
	revealPriv *btcec.PrivateKey,
) (wire.TxWitness, error) {
	leaf := txscript.NewBaseTapLeaf(script)
	tree := txscript.AssembleTaprootScriptTree(leaf)
	ctrl := tree.LeafMerkleProofs[0].ToControlBlock(bridge.UnspendableInternalKey())
	ctrlBytes, err := ctrl.ToBytes()
	if err != nil {
		return nil, err
	}

	fetcher := txscript.NewCannedPrevOutputFetcher(commitOut.PkScript, commitOut.Value)
	sigHashes := txscript.NewTxSigHashes(reveal, fetcher)
	sig, err := txscript.RawTxInTapscriptSignature(reveal, sigHashes, 0,
		commitOut.Value, commitOut.PkScript, leaf, txscript.SigHashDefault, revealPriv)
	if err != nil {
		return nil, fmt.Errorf("writer: reveal signature: %w", err)
	}
	return wire.TxWitness{sig, script, ctrlBytes}, nil
}
