package bridge

import (
	"errors"
	"fmt"

	"github.com/alpenlabs/strata-sub002/l1"
	"github.com/alpenlabs/strata-sub002/types"
)

var (
	// ErrEmptyTapscript: a taproot address was requested with neither
	// scripts nor an internal key to fall back on.
	ErrEmptyTapscript = errors.New("bridge: no tapscripts and no internal key")

	ErrNotTaprootAddress = errors.New("bridge: address is not v1 taproot")

	// ErrNoncesIncomplete: an operation that needs the aggregate nonce
	// ran before every operator's nonce arrived.
	ErrNoncesIncomplete = errors.New("bridge: public nonces not yet complete")

	ErrAlreadySigned = errors.New("bridge: own partial signature already produced")
)

// UnauthorizedPubkeyError: the claimed signer index is not in the
// pubkey table. Distinct from a bad signature; this operator was never
// part of the signing set.
type UnauthorizedPubkeyError struct {
	Idx types.OperatorIdx
}

func (e *UnauthorizedPubkeyError) Error() string {
	return fmt.Sprintf("bridge: operator %d not in pubkey table", e.Idx)
}

// PubNonceNotFoundError: a partial signature referenced an operator
// whose public nonce was never collected.
type PubNonceNotFoundError struct {
	Idx types.OperatorIdx
}

func (e *PubNonceNotFoundError) Error() string {
	return fmt.Sprintf("bridge: no public nonce from operator %d", e.Idx)
}

// InvalidSignatureError: the partial signature failed cryptographic
// verification against the operator's key and nonce.
type InvalidSignatureError struct {
	Idx types.OperatorIdx
}

func (e *InvalidSignatureError) Error() string {
	return fmt.Sprintf("bridge: invalid partial signature from operator %d", e.Idx)
}

// UnknownTxError: no signing state exists for the referenced
// transaction id.
type UnknownTxError struct {
	Txid l1.L1TxId
}

func (e *UnknownTxError) Error() string {
	return fmt.Sprintf("bridge: no signing state for tx %s", e.Txid.String())
}
