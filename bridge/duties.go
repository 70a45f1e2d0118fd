package bridge

import (
	"fmt"

	"github.com/alpenlabs/strata-sub002/l1"
	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/types"
)

// DutyKind says what kind of bridge work a duty asks for.
type DutyKind uint8

const (
	// DutySignDeposit: join the MuSig2 session sweeping a user's
	// request output into the federation address.
	DutySignDeposit DutyKind = iota + 1
	// DutyFulfillWithdrawal: front the dispatched outputs from the
	// operator's own wallet before the deadline.
	DutyFulfillWithdrawal
)

func (k DutyKind) String() string {
	switch k {
	case DutySignDeposit:
		return "sign_deposit"
	case DutyFulfillWithdrawal:
		return "fulfill_withdrawal"
	default:
		return fmt.Sprintf("duty(%d)", uint8(k))
	}
}

func (k DutyKind) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", k.String())), nil
}

func (k *DutyKind) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"sign_deposit"`:
		*k = DutySignDeposit
	case `"fulfill_withdrawal"`:
		*k = DutyFulfillWithdrawal
	default:
		return fmt.Errorf("unknown duty kind %s", data)
	}
	return nil
}

// Duty is one unit of bridge work. RequestTxid and Request are set for
// sign-deposit duties; DepositIdx, Output, Dispatch and ExecDeadline
// for fulfill-withdrawal duties. Amt is set for both.
type Duty struct {
	Kind DutyKind `json:"kind"`
	Amt  uint64   `json:"amt"`

	RequestTxid l1.L1TxId              `json:"request_txid"`
	Request     *l1.DepositRequestInfo `json:"request,omitempty"`

	DepositIdx   uint32                 `json:"deposit_idx"`
	Output       l1.OutputRef           `json:"output"`
	Dispatch     *types.DispatchCommand `json:"dispatch,omitempty"`
	ExecDeadline uint64                 `json:"exec_deadline,omitempty"`
}

func (d *Duty) String() string {
	if d.Kind == DutyFulfillWithdrawal {
		return fmt.Sprintf("%s(deposit %d, %d sats, deadline %d)",
			d.Kind, d.DepositIdx, d.Amt, d.ExecDeadline)
	}
	return fmt.Sprintf("%s(%s, %d sats)", d.Kind, d.RequestTxid.String(), d.Amt)
}

// ExtractWithdrawalDuties walks the deposits table and returns the
// fulfillments currently assigned to the operator. Table order makes
// the sequence deterministic across restarts.
func ExtractWithdrawalDuties(state *types.Chainstate, op types.OperatorIdx) []Duty {
	duties := make([]Duty, 0)
	state.DepositsTable.Iter(func(e *types.DepositEntry) {
		if e.State != types.DepositDispatched || e.Assignee != op || e.Dispatch == nil {
			return
		}
		duties = append(duties, Duty{
			Kind:         DutyFulfillWithdrawal,
			Amt:          e.Amt,
			DepositIdx:   e.Idx,
			Output:       e.Output,
			Dispatch:     e.Dispatch,
			ExecDeadline: e.ExecDeadline,
		})
	})
	return duties
}

// ExtractRequestDuties scans a block manifest for deposit request
// outputs every notary must help sweep. Requests not carrying at least
// the fixed deposit denomination cannot cover the sweep fee and are
// skipped. Undecodable raw txs are skipped too; the manifest is
// L1-sourced input.
func ExtractRequestDuties(mf *l1.L1BlockManifest, depositAmt uint64) []Duty {
	duties := make([]Duty, 0)
	for i := range mf.Txs {
		tx := &mf.Txs[i]
		var txid l1.L1TxId
		txidSet := false
		for _, op := range tx.Ops {
			req, ok := op.(*l1.DepositRequestInfo)
			if !ok {
				continue
			}
			if req.Amt < depositAmt {
				log.Warn(log.BridgeMonitoring, "deposit request below denomination",
					"amt", req.Amt, "want", depositAmt, "height", mf.Height)
				continue
			}
			if !txidSet {
				msg, err := tx.Tx()
				if err != nil {
					log.Warn(log.BridgeMonitoring, "undecodable raw tx in manifest, skipping request",
						"height", mf.Height, "position", tx.Position)
					break
				}
				txid = l1.L1TxIdFromHash(msg.TxHash())
				txidSet = true
			}
			duties = append(duties, Duty{
				Kind:        DutySignDeposit,
				Amt:         req.Amt,
				RequestTxid: txid,
				Request:     req,
			})
		}
	}
	return duties
}
