package bridge

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/types"
)

// changeDust is the smallest change output worth creating; anything
// below it is left to the miners.
const changeDust = 546

// TxBuildContext holds what every bridge transaction needs: the
// operator set, the network, and the aggregate key with its federation
// address. Build one per operator-set epoch and reuse it.
type TxBuildContext struct {
	net       *chaincfg.Params
	table     *PublickeyTable
	magic     []byte
	aggKey    *btcec.PublicKey
	fedAddr   *btcutil.AddressTaproot
	fedScript []byte
}

func NewTxBuildContext(net *chaincfg.Params, table *PublickeyTable, magic []byte) (*TxBuildContext, error) {
	aggKey, err := table.AggregateKey()
	if err != nil {
		return nil, err
	}
	addr, err := CreateTaprootAddr(net, aggKey, nil)
	if err != nil {
		return nil, err
	}
	script, err := TaprootPkScript(addr)
	if err != nil {
		return nil, err
	}
	return &TxBuildContext{
		net:       net,
		table:     table,
		magic:     append([]byte(nil), magic...),
		aggKey:    aggKey,
		fedAddr:   addr,
		fedScript: script,
	}, nil
}

func (c *TxBuildContext) AggregateKey() *btcec.PublicKey {
	return c.aggKey
}

func (c *TxBuildContext) FederationAddress() *btcutil.AddressTaproot {
	return c.fedAddr
}

func (c *TxBuildContext) FederationScript() []byte {
	return c.fedScript
}

// DepositRequestAddress derives the address users pay to: key path is
// the federation aggregate, the single script path is the user's
// take-back leaf.
func (c *TxBuildContext) DepositRequestAddress(takeBackScript []byte) (*btcutil.AddressTaproot, error) {
	return CreateTaprootAddr(c.net, c.aggKey, [][]byte{takeBackScript})
}

// taggedScript renders the OP_RETURN output carrying magic-prefixed
// protocol metadata as a single push, the exact shape the tx filter
// scans for.
func (c *TxBuildContext) taggedScript(body []byte) ([]byte, error) {
	payload := make([]byte, 0, len(c.magic)+len(body))
	payload = append(payload, c.magic...)
	payload = append(payload, body...)
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_RETURN).
		AddData(payload).
		Script()
}

// BuildDepositTx assembles the unsigned deposit transaction: it sweeps
// the deposit request output into the federation address for exactly
// depositAmt, tagging the deposit index and the rollup address in an
// OP_RETURN. Whatever the request output carries beyond depositAmt is
// the fee. Returns the tx plus its prevouts for the signing state.
func (c *TxBuildContext) BuildDepositTx(drt wire.OutPoint, drtPrevout *wire.TxOut,
	depositIdx uint32, eeAddr common.Address, depositAmt uint64,
) (*wire.MsgTx, []*wire.TxOut, error) {
	if uint64(drtPrevout.Value) <= depositAmt {
		return nil, nil, fmt.Errorf("bridge: request output %d leaves no fee over deposit %d",
			drtPrevout.Value, depositAmt)
	}

	var body [4 + common.AddressLength]byte
	binary.BigEndian.PutUint32(body[:4], depositIdx)
	copy(body[4:], eeAddr[:])
	tagScript, err := c.taggedScript(body[:])
	if err != nil {
		return nil, nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&drt, nil, nil))
	tx.AddTxOut(wire.NewTxOut(0, tagScript))
	tx.AddTxOut(wire.NewTxOut(int64(depositAmt), c.fedScript))
	return tx, []*wire.TxOut{drtPrevout}, nil
}

// FundingUtxo is one operator-wallet output spent to front a
// withdrawal.
type FundingUtxo struct {
	Outpoint wire.OutPoint
	Prevout  *wire.TxOut
}

// BuildWithdrawalTx assembles the unsigned fulfillment transaction the
// assigned operator pays from its own wallet: an OP_RETURN tagging
// (operator, deposit), then the dispatched outputs verbatim, then
// change. The tag plus exact outputs are what the tx filter matches to
// credit the operator on L1 scan.
func (c *TxBuildContext) BuildWithdrawalTx(cmd *types.DispatchCommand,
	operatorIdx types.OperatorIdx, depositIdx uint32,
	funding []FundingUtxo, changeScript []byte, feeRate uint64,
) (*wire.MsgTx, []*wire.TxOut, error) {
	if len(cmd.Outputs) == 0 {
		return nil, nil, fmt.Errorf("bridge: dispatch command has no outputs")
	}
	if len(funding) == 0 {
		return nil, nil, fmt.Errorf("bridge: no funding utxos")
	}

	var body [8]byte
	binary.BigEndian.PutUint32(body[:4], uint32(operatorIdx))
	binary.BigEndian.PutUint32(body[4:], depositIdx)
	tagScript, err := c.taggedScript(body[:])
	if err != nil {
		return nil, nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	prevouts := make([]*wire.TxOut, 0, len(funding))
	totalIn := uint64(0)
	for _, f := range funding {
		op := f.Outpoint
		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
		prevouts = append(prevouts, f.Prevout)
		totalIn += uint64(f.Prevout.Value)
	}

	tx.AddTxOut(wire.NewTxOut(0, tagScript))
	totalOut := uint64(0)
	for _, o := range cmd.Outputs {
		tx.AddTxOut(wire.NewTxOut(int64(o.Amt), o.Destination))
		totalOut += o.Amt
	}

	// Fee over the final shape including a change output; if change
	// then falls below dust it folds into the fee instead.
	withChange := append(append([]*wire.TxOut(nil), tx.TxOut...), wire.NewTxOut(0, changeScript))
	fee := feeRate * estimateVSize(len(tx.TxIn), withChange)
	if totalIn < totalOut+fee {
		return nil, nil, fmt.Errorf("bridge: insufficient funds: need %d, have %d", totalOut+fee, totalIn)
	}
	if change := totalIn - totalOut - fee; change >= changeDust {
		tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))
	}
	return tx, prevouts, nil
}

// estimateVSize sizes a transaction whose inputs are all taproot key
// spends (one 64-byte witness signature each).
func estimateVSize(numInputs int, outputs []*wire.TxOut) uint64 {
	// version + locktime + counts + segwit marker/flag share.
	size := uint64(11)
	size += uint64(numInputs) * 58
	for _, o := range outputs {
		size += uint64(8 + wire.VarIntSerializeSize(uint64(len(o.PkScript))) + len(o.PkScript))
	}
	return size
}
