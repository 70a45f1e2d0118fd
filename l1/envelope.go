package l1

import (
	"bytes"

	"github.com/btcsuite/btcd/txscript"
)

// EnvelopeVersion tags payload envelopes so the format can evolve.
const EnvelopeVersion = 1

// ParseEnvelopePayloads scans a tapscript for payload envelopes of the form
//
//	OP_FALSE OP_IF <magic> <version> <chunk>... OP_ENDIF
//
// and returns each envelope's reassembled payload. Scripts without a
// matching envelope return an empty slice and no error; only structurally
// broken envelopes error.
func ParseEnvelopePayloads(script []byte, magic []byte) ([][]byte, error) {
	var payloads [][]byte

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		if tokenizer.Opcode() != txscript.OP_FALSE {
			continue
		}
		if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_IF {
			continue
		}
		// Tag push must match our magic; foreign envelopes are skipped by
		// draining to OP_ENDIF.
		if !tokenizer.Next() {
			return nil, ErrBadEnvelope
		}
		if tokenizer.Opcode() == txscript.OP_ENDIF {
			continue
		}
		if !bytes.Equal(tokenizer.Data(), magic) {
			if err := drainEnvelope(&tokenizer); err != nil {
				return nil, err
			}
			continue
		}
		if !tokenizer.Next() || len(tokenizer.Data()) != 1 || tokenizer.Data()[0] != EnvelopeVersion {
			return nil, ErrBadEnvelope
		}

		var payload []byte
		complete := false
		for tokenizer.Next() {
			if tokenizer.Opcode() == txscript.OP_ENDIF {
				complete = true
				break
			}
			if tokenizer.Data() == nil {
				// Small-integer opcodes carry no Data(); envelopes only hold
				// byte pushes.
				return nil, ErrBadEnvelope
			}
			payload = append(payload, tokenizer.Data()...)
		}
		if !complete {
			return nil, ErrBadEnvelope
		}
		payloads = append(payloads, payload)
	}
	if err := tokenizer.Err(); err != nil {
		return nil, err
	}
	return payloads, nil
}

func drainEnvelope(tokenizer *txscript.ScriptTokenizer) error {
	for tokenizer.Next() {
		if tokenizer.Opcode() == txscript.OP_ENDIF {
			return nil
		}
	}
	return ErrBadEnvelope
}
