package l1

import (
	"errors"
	"fmt"
)

var (
	ErrMissingHeader   = errors.New("l1: missing header")
	ErrBadEnvelope     = errors.New("l1: malformed envelope payload")
	ErrShortOpReturn   = errors.New("l1: op_return payload too short")
	ErrUnknownOpKind   = errors.New("l1: unknown protocol op kind")
	ErrHorizonTooDeep  = errors.New("l1: height below horizon")
	ErrMalformedHeader = errors.New("l1: malformed serialized header")
)

// ContinuityError reports a header whose previous-block hash does not extend
// the verified tip.
type ContinuityError struct {
	Expected L1BlockId
	Got      L1BlockId
}

func (e *ContinuityError) Error() string {
	return fmt.Sprintf("l1: continuity broken, expected prev %s got %s", e.Expected.String_short(), e.Got.String_short())
}

// WrongTargetError reports header bits differing from the required target.
type WrongTargetError struct {
	Expected uint32
	Got      uint32
}

func (e *WrongTargetError) Error() string {
	return fmt.Sprintf("l1: wrong target bits, expected %08x got %08x", e.Expected, e.Got)
}

// PowNotMetError reports a block hash above its claimed target.
type PowNotMetError struct {
	BlockHash L1BlockId
	Bits      uint32
}

func (e *PowNotMetError) Error() string {
	return fmt.Sprintf("l1: block %s does not meet target %08x", e.BlockHash.String_short(), e.Bits)
}

// TimestampError reports a header timestamp at or below the median of the
// last 11 blocks.
type TimestampError struct {
	Ts     uint32
	Median uint32
}

func (e *TimestampError) Error() string {
	return fmt.Sprintf("l1: timestamp %d not above median %d", e.Ts, e.Median)
}
