package l1

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/alpenlabs/strata-sub002/common"
)

// ProtocolOp is one relevant-to-the-rollup operation extracted from an L1
// transaction.
type ProtocolOp interface {
	OpKind() OpKind
	String() string
}

type OpKind uint8

const (
	OpKindDeposit OpKind = iota + 1
	OpKindDepositRequest
	OpKindCheckpoint
	OpKindWithdrawalFulfillment
	OpKindDepositSpent
)

func (k OpKind) String() string {
	switch k {
	case OpKindDeposit:
		return "deposit"
	case OpKindDepositRequest:
		return "deposit_request"
	case OpKindCheckpoint:
		return "checkpoint"
	case OpKindWithdrawalFulfillment:
		return "withdrawal_fulfillment"
	case OpKindDepositSpent:
		return "deposit_spent"
	default:
		return "unknown"
	}
}

// DepositInfo is a confirmed deposit into the bridge: exact-denomination
// output to the federation address plus tagged metadata naming the deposit
// index and destination account.
type DepositInfo struct {
	DepositIdx uint32         `json:"deposit_idx"`
	Amt        uint64         `json:"amt"`
	Outpoint   wire.OutPoint  `json:"outpoint"`
	Address    common.Address `json:"address"`
}

func (d *DepositInfo) OpKind() OpKind { return OpKindDeposit }
func (d *DepositInfo) String() string {
	return fmt.Sprintf("deposit(idx=%d amt=%d dest=%s)", d.DepositIdx, d.Amt, d.Address.Hex())
}

// DepositRequestInfo is a user's request output the federation may later
// sweep into a deposit. The take-back leaf hash lets the user reclaim funds
// if the federation never acts.
type DepositRequestInfo struct {
	Amt              uint64         `json:"amt"`
	TakeBackLeafHash common.Hash    `json:"take_back_leaf_hash"`
	Address          common.Address `json:"address"`
}

func (d *DepositRequestInfo) OpKind() OpKind { return OpKindDepositRequest }
func (d *DepositRequestInfo) String() string {
	return fmt.Sprintf("deposit_request(amt=%d dest=%s)", d.Amt, d.Address.Hex())
}

// CheckpointPayload is a signed checkpoint blob recovered from an envelope.
type CheckpointPayload struct {
	Data []byte `json:"data"`
}

func (c *CheckpointPayload) OpKind() OpKind { return OpKindCheckpoint }
func (c *CheckpointPayload) String() string {
	return fmt.Sprintf("checkpoint(%d bytes)", len(c.Data))
}

// WithdrawalFulfillmentInfo is an operator's front payment for an assigned
// withdrawal, identified by the tagged operator/deposit index pair.
type WithdrawalFulfillmentInfo struct {
	OperatorIdx uint32 `json:"operator_idx"`
	DepositIdx  uint32 `json:"deposit_idx"`
	Amt         uint64 `json:"amt"`
	Txid        L1TxId `json:"txid"`
}

func (w *WithdrawalFulfillmentInfo) OpKind() OpKind { return OpKindWithdrawalFulfillment }
func (w *WithdrawalFulfillmentInfo) String() string {
	return fmt.Sprintf("withdrawal_fulfillment(op=%d deposit=%d amt=%d)", w.OperatorIdx, w.DepositIdx, w.Amt)
}

// DepositSpendInfo marks a tracked deposit UTXO leaving the bridge.
type DepositSpendInfo struct {
	DepositIdx uint32 `json:"deposit_idx"`
}

func (d *DepositSpendInfo) OpKind() OpKind { return OpKindDepositSpent }
func (d *DepositSpendInfo) String() string {
	return fmt.Sprintf("deposit_spent(idx=%d)", d.DepositIdx)
}

// opEnvelope is the tagged-union JSON form of a ProtocolOp.
type opEnvelope struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

func MarshalOps(ops []ProtocolOp) ([]byte, error) {
	out := make([]opEnvelope, 0, len(ops))
	for _, op := range ops {
		body, err := json.Marshal(op)
		if err != nil {
			return nil, err
		}
		out = append(out, opEnvelope{Kind: op.OpKind().String(), Body: body})
	}
	return json.Marshal(out)
}

func UnmarshalOps(data []byte) ([]ProtocolOp, error) {
	var envs []opEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, err
	}
	ops := make([]ProtocolOp, 0, len(envs))
	for _, env := range envs {
		var op ProtocolOp
		switch env.Kind {
		case "deposit":
			op = &DepositInfo{}
		case "deposit_request":
			op = &DepositRequestInfo{}
		case "checkpoint":
			op = &CheckpointPayload{}
		case "withdrawal_fulfillment":
			op = &WithdrawalFulfillmentInfo{}
		case "deposit_spent":
			op = &DepositSpendInfo{}
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownOpKind, env.Kind)
		}
		if err := json.Unmarshal(env.Body, op); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}
