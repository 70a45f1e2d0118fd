// Package btcio holds the node's Bitcoin-facing edge: the client
// interfaces the external RPC collaborator must satisfy, the block
// reader that turns the chain into manifests and sync events, and an
// in-memory fake chain for tests.
package btcio

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/alpenlabs/strata-sub002/l1"
)

// ErrNotFound: the queried block, tx or height does not exist on the
// chain the client sees. For the reader this is indistinguishable from
// "no new block yet" and is retried on the next tick.
var ErrNotFound = errors.New("btcio: not found")

// ClientError wraps a failed remote call. Transient errors (connection
// drops, timeouts, -28 warming up) are retried by the caller's poll
// loop; anything else is surfaced.
type ClientError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *ClientError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("btcio: %s (%s): %v", e.Op, kind, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

func TransientError(op string, err error) *ClientError {
	return &ClientError{Op: op, Transient: true, Err: err}
}

func FatalError(op string, err error) *ClientError {
	return &ClientError{Op: op, Transient: false, Err: err}
}

// IsTransient reports whether err is worth retrying on the next poll
// tick. ErrNotFound counts: a block that is not there yet will be.
func IsTransient(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var ce *ClientError
	return errors.As(err, &ce) && ce.Transient
}

// Reader fetches blocks from the canonical L1 chain.
type Reader interface {
	GetBlockAt(ctx context.Context, height uint64) (*wire.MsgBlock, error)
	GetBlock(ctx context.Context, id l1.L1BlockId) (*wire.MsgBlock, error)
	GetBlockHeight(ctx context.Context, id l1.L1BlockId) (uint64, error)
	GetBlockHash(ctx context.Context, height uint64) (l1.L1BlockId, error)
}

// Broadcaster submits transactions and reports how deep they sit.
// GetTxConfirmations returns 0 for mempool and ErrNotFound for a tx the
// chain no longer knows, which is how the writer notices a reorg ate
// its envelope.
type Broadcaster interface {
	BroadcastTx(ctx context.Context, tx *wire.MsgTx) (l1.L1TxId, error)
	GetTxConfirmations(ctx context.Context, txid l1.L1TxId) (uint64, error)
}

// Utxo is one spendable wallet output.
type Utxo struct {
	OutPoint wire.OutPoint
	Amount   int64 // sats
	PkScript []byte
}

// Wallet is the funded-wallet surface the envelope writer drives. All
// calls are fallible remote calls; retry policy belongs to the caller.
type Wallet interface {
	GetUtxos(ctx context.Context) ([]Utxo, error)
	// EstimateFee returns sat/vB for the given confirmation target.
	EstimateFee(ctx context.Context, confTarget uint64) (uint64, error)
	GetNewAddress(ctx context.Context) (btcutil.Address, error)
	ImportDescriptor(ctx context.Context, descriptor string) error
	// SignRawTx fills in signatures for the wallet-owned inputs of tx.
	SignRawTx(ctx context.Context, tx *wire.MsgTx) (*wire.MsgTx, error)
}

// Client is the full surface the node wires in.
type Client interface {
	Reader
	Broadcaster
	Wallet
}

type readerHeaderSource struct {
	r Reader
}

func (s readerHeaderSource) BlockHeaderAt(ctx context.Context, height uint64) (*wire.BlockHeader, error) {
	block, err := s.r.GetBlockAt(ctx, height)
	if err != nil {
		return nil, err
	}
	return &block.Header, nil
}

// HeaderSourceFromReader adapts a Reader for header verification
// bootstrap.
func HeaderSourceFromReader(r Reader) l1.HeaderSource {
	return readerHeaderSource{r: r}
}
