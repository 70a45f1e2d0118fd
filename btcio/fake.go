package btcio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/alpenlabs/strata-sub002/l1"
)

const fakeBlockInterval = 600 // seconds

// FakeChain is an in-memory Bitcoin chain implementing Client. It grows
// by explicit Extend calls, can be reorged at any height, and can be
// told to fail its next N calls to exercise retry paths. Blocks are
// deterministic apart from a salt that keeps competing branches
// distinct. Headers are ground to meet the regtest target so they pass
// header verification; witnesses are never validated.
type FakeChain struct {
	mu  sync.Mutex
	net *chaincfg.Params

	chain      []*wire.MsgBlock // chain[h] is height h
	byId       map[l1.L1BlockId]*wire.MsgBlock
	heightById map[l1.L1BlockId]uint64

	mempool map[l1.L1TxId]*wire.MsgTx
	mined   map[l1.L1TxId]uint64 // txid -> inclusion height

	utxos       []Utxo
	feeRate     uint64
	descriptors []string

	walletPriv *btcec.PrivateKey
	originTs   int64
	salt       uint32
	failures   int
}

func NewFakeChain(net *chaincfg.Params) *FakeChain {
	priv, _ := btcec.PrivKeyFromBytes([]byte("fake chain wallet key, 32 bytes!"))
	c := &FakeChain{
		net:        net,
		byId:       make(map[l1.L1BlockId]*wire.MsgBlock),
		heightById: make(map[l1.L1BlockId]uint64),
		mempool:    make(map[l1.L1TxId]*wire.MsgTx),
		mined:      make(map[l1.L1TxId]uint64),
		feeRate:    2,
		walletPriv: priv,
		originTs:   1600000000,
	}
	c.appendBlock(nil) // height 0
	return c
}

func (c *FakeChain) buildBlock(prev chainhash.Hash, height uint64, txs []*wire.MsgTx) *wire.MsgBlock {
	c.salt++
	var merkle chainhash.Hash
	binary.BigEndian.PutUint32(merkle[:4], c.salt)
	binary.BigEndian.PutUint64(merkle[4:12], height)
	block := &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:    4,
			PrevBlock:  prev,
			MerkleRoot: merkle,
			Timestamp:  time.Unix(c.originTs+int64(height)*fakeBlockInterval, 0),
			Bits:       0x207fffff,
			Nonce:      c.salt,
		},
	}
	// regtest-grade mining: about half of raw hashes exceed even the
	// regtest target, so grind like bitcoind does
	target := blockchain.CompactToBig(block.Header.Bits)
	for {
		hash := block.Header.BlockHash()
		if blockchain.HashToBig(&hash).Cmp(target) <= 0 {
			break
		}
		block.Header.Nonce++
	}
	block.Transactions = append(block.Transactions, txs...)
	return block
}

func (c *FakeChain) appendBlock(txs []*wire.MsgTx) *wire.MsgBlock {
	var prev chainhash.Hash
	height := uint64(len(c.chain))
	if height > 0 {
		prev = c.chain[height-1].BlockHash()
	}
	block := c.buildBlock(prev, height, txs)
	c.chain = append(c.chain, block)
	id := l1.L1BlockIdFromHash(block.BlockHash())
	c.byId[id] = block
	c.heightById[id] = height
	for _, tx := range txs {
		txid := l1.L1TxIdFromHash(tx.TxHash())
		c.mined[txid] = height
		delete(c.mempool, txid)
	}
	return block
}

// Extend mines one block containing exactly the given txs.
func (c *FakeChain) Extend(txs ...*wire.MsgTx) *wire.MsgBlock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendBlock(txs)
}

// ExtendN mines n empty blocks.
func (c *FakeChain) ExtendN(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.appendBlock(nil)
	}
}

// MineMempool mines one block containing everything broadcast so far.
func (c *FakeChain) MineMempool() *wire.MsgBlock {
	c.mu.Lock()
	defer c.mu.Unlock()
	txs := make([]*wire.MsgTx, 0, len(c.mempool))
	for _, tx := range c.mempool {
		txs = append(txs, tx)
	}
	return c.appendBlock(txs)
}

// ReorgFrom drops every block at and above height and mines n fresh
// empty blocks on the shortened chain. Transactions mined only on the
// abandoned branch are forgotten: confirmations for them report
// ErrNotFound, the way a real node answers after a reorg.
func (c *FakeChain) ReorgFrom(height uint64, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if height == 0 || height > uint64(len(c.chain)) {
		panic(fmt.Sprintf("btcio: bad reorg height %d (tip %d)", height, len(c.chain)-1))
	}
	for h := height; h < uint64(len(c.chain)); h++ {
		id := l1.L1BlockIdFromHash(c.chain[h].BlockHash())
		delete(c.heightById, id)
		for txid, mh := range c.mined {
			if mh == h {
				delete(c.mined, txid)
			}
		}
	}
	c.chain = c.chain[:height]
	for i := 0; i < n; i++ {
		c.appendBlock(nil)
	}
}

// Tip returns the canonical tip height and id.
func (c *FakeChain) Tip() (uint64, l1.L1BlockId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	height := uint64(len(c.chain) - 1)
	return height, l1.L1BlockIdFromHash(c.chain[height].BlockHash())
}

// SetFailures makes the next n client calls fail with a transient
// error.
func (c *FakeChain) SetFailures(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = n
}

func (c *FakeChain) failNext(op string) error {
	if c.failures > 0 {
		c.failures--
		return TransientError(op, fmt.Errorf("injected failure"))
	}
	return nil
}

func (c *FakeChain) GetBlockAt(ctx context.Context, height uint64) (*wire.MsgBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failNext("getblockat"); err != nil {
		return nil, err
	}
	if height >= uint64(len(c.chain)) {
		return nil, ErrNotFound
	}
	return c.chain[height], nil
}

func (c *FakeChain) GetBlock(ctx context.Context, id l1.L1BlockId) (*wire.MsgBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failNext("getblock"); err != nil {
		return nil, err
	}
	block, ok := c.byId[id]
	if !ok {
		return nil, ErrNotFound
	}
	return block, nil
}

func (c *FakeChain) GetBlockHeight(ctx context.Context, id l1.L1BlockId) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failNext("getblockheight"); err != nil {
		return 0, err
	}
	height, ok := c.heightById[id]
	if !ok {
		return 0, ErrNotFound
	}
	return height, nil
}

func (c *FakeChain) GetBlockHash(ctx context.Context, height uint64) (l1.L1BlockId, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failNext("getblockhash"); err != nil {
		return l1.L1BlockId{}, err
	}
	if height >= uint64(len(c.chain)) {
		return l1.L1BlockId{}, ErrNotFound
	}
	return l1.L1BlockIdFromHash(c.chain[height].BlockHash()), nil
}

func (c *FakeChain) BroadcastTx(ctx context.Context, tx *wire.MsgTx) (l1.L1TxId, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failNext("broadcast"); err != nil {
		return l1.L1TxId{}, err
	}
	txid := l1.L1TxIdFromHash(tx.TxHash())
	if _, mined := c.mined[txid]; !mined {
		c.mempool[txid] = tx
	}
	return txid, nil
}

func (c *FakeChain) GetTxConfirmations(ctx context.Context, txid l1.L1TxId) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failNext("confirmations"); err != nil {
		return 0, err
	}
	if height, ok := c.mined[txid]; ok {
		return uint64(len(c.chain)) - height, nil
	}
	if _, ok := c.mempool[txid]; ok {
		return 0, nil
	}
	return 0, ErrNotFound
}

// AddUtxo credits the wallet with a spendable output paying the wallet
// address.
func (c *FakeChain) AddUtxo(amount int64) wire.OutPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	script, err := c.walletScript()
	if err != nil {
		panic(err)
	}
	var h chainhash.Hash
	binary.BigEndian.PutUint32(h[:4], uint32(len(c.utxos)+1))
	h[4] = 0xf0
	op := wire.OutPoint{Hash: h, Index: 0}
	c.utxos = append(c.utxos, Utxo{OutPoint: op, Amount: amount, PkScript: script})
	return op
}

func (c *FakeChain) walletScript() ([]byte, error) {
	key := schnorr.SerializePubKey(txscript.ComputeTaprootKeyNoScript(c.walletPriv.PubKey()))
	addr, err := btcutil.NewAddressTaproot(key, c.net)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

func (c *FakeChain) GetUtxos(ctx context.Context) ([]Utxo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failNext("getutxos"); err != nil {
		return nil, err
	}
	out := make([]Utxo, len(c.utxos))
	copy(out, c.utxos)
	return out, nil
}

func (c *FakeChain) EstimateFee(ctx context.Context, confTarget uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failNext("estimatefee"); err != nil {
		return 0, err
	}
	return c.feeRate, nil
}

func (c *FakeChain) GetNewAddress(ctx context.Context) (btcutil.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failNext("getnewaddress"); err != nil {
		return nil, err
	}
	key := schnorr.SerializePubKey(txscript.ComputeTaprootKeyNoScript(c.walletPriv.PubKey()))
	return btcutil.NewAddressTaproot(key, c.net)
}

func (c *FakeChain) ImportDescriptor(ctx context.Context, descriptor string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failNext("importdescriptor"); err != nil {
		return err
	}
	c.descriptors = append(c.descriptors, descriptor)
	return nil
}

// Descriptors lists everything imported so far.
func (c *FakeChain) Descriptors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.descriptors))
	copy(out, c.descriptors)
	return out
}

// SignRawTx attaches a placeholder witness to every unsigned input.
// The fake chain never validates witnesses; signature correctness is
// covered where real scripts are executed.
func (c *FakeChain) SignRawTx(ctx context.Context, tx *wire.MsgTx) (*wire.MsgTx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failNext("signrawtx"); err != nil {
		return nil, err
	}
	signed := tx.Copy()
	for _, in := range signed.TxIn {
		if len(in.Witness) == 0 {
			in.Witness = wire.TxWitness{make([]byte, 64)}
		}
	}
	return signed, nil
}

var _ Client = (*FakeChain)(nil)
