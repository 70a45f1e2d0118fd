package types

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/alpenlabs/strata-sub002/common"
)

// WithdrawalIntent is a request originating on the rollup to pay sats
// to an L1 script. Intents queue up in the chainstate until the epoch
// check-in binds each one to a deposit and an operator.
type WithdrawalIntent struct {
	Amt uint64 `json:"amt"`

	// Destination is the raw scriptPubKey the user gets paid to.
	Destination common.HexBytes `json:"destination"`
}

func (w *WithdrawalIntent) String() string {
	return fmt.Sprintf("withdraw %d sats to %s", w.Amt, common.HexString([]byte(w.Destination)))
}

func (w *WithdrawalIntent) encodeTo(buf *bytes.Buffer) {
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], w.Amt)
	buf.Write(scratch[:])
	binary.BigEndian.PutUint32(scratch[:4], uint32(len(w.Destination)))
	buf.Write(scratch[:4])
	buf.Write(w.Destination)
}

// DispatchOutput is one payment the assigned operator must make when
// fronting a withdrawal.
type DispatchOutput struct {
	Destination common.HexBytes `json:"destination"`
	Amt         uint64          `json:"amt"`
}

// DispatchCommand tells the assigned operator exactly what the
// fulfillment transaction must pay. Produced by the epoch check-in,
// consumed by the bridge transaction builder.
type DispatchCommand struct {
	Outputs []DispatchOutput `json:"outputs"`
}

func NewDispatchCommandForIntent(intent *WithdrawalIntent) DispatchCommand {
	return DispatchCommand{Outputs: []DispatchOutput{{
		Destination: append(common.HexBytes(nil), intent.Destination...),
		Amt:         intent.Amt,
	}}}
}

func (c *DispatchCommand) TotalAmt() uint64 {
	total := uint64(0)
	for _, o := range c.Outputs {
		total += o.Amt
	}
	return total
}
