package params

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"embed"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/alpenlabs/strata-sub002/common"
)

//go:embed *.json
var configFS embed.FS

var networkFile = map[string]string{
	"devnet": "devnet-spec.json",
}

// ReadSpec resolves a well-known network id or a filesystem path into Params.
func ReadSpec(id string) (p *Params, err error) {
	var data []byte
	path, ok := networkFile[id]
	if ok {
		data, err = configFS.ReadFile(path)
		if err != nil {
			return p, err
		}
	} else {
		data, err = os.ReadFile(id)
		if err != nil {
			return p, err
		}
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, err
	}
	if err := p.Check(); err != nil {
		return p, err
	}
	return p, nil
}

// OperatorKeys is one bridge federation member's key material: the key it
// signs p2p messages with and the key it contributes to the aggregated
// deposit address. Both are 32-byte x-only pubkeys.
type OperatorKeys struct {
	Signing common.Hash `json:"signing"`
	Wallet  common.Hash `json:"wallet"`
}

// ProofPublishMode controls whether checkpoints with empty proofs are
// acceptable. Strict refuses them; a nonzero timeout accepts them once the
// proof has been outstanding that long (devnet operation without provers).
type ProofPublishMode struct {
	Strict  bool
	Timeout uint64 // seconds, when not strict
}

func (m ProofPublishMode) AllowEmptyProofs() bool {
	return !m.Strict
}

func (m ProofPublishMode) MarshalJSON() ([]byte, error) {
	if m.Strict {
		return json.Marshal("strict")
	}
	return json.Marshal(map[string]uint64{"timeout": m.Timeout})
}

func (m *ProofPublishMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "strict" {
			return fmt.Errorf("invalid proof_publish_mode: %s", s)
		}
		m.Strict = true
		return nil
	}
	var tmp map[string]uint64
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	timeout, ok := tmp["timeout"]
	if !ok {
		return fmt.Errorf("invalid proof_publish_mode: %v", tmp)
	}
	m.Strict = false
	m.Timeout = timeout
	return nil
}

// Params are the consensus-critical rollup parameters. Every instance is fed
// through constructors; nothing here is read from package globals.
type Params struct {
	RollupName string `json:"rollup_name"` // 4-char tag, becomes the OP_RETURN magic

	BlockTimeMs uint64 `json:"block_time"` // L2 block interval

	// Sequencer schnorr pubkey that signs checkpoints (x-only).
	CredRule common.Hash `json:"cred_rule"`

	HorizonL1Height uint64 `json:"horizon_l1_height"` // earliest L1 height the client cares about
	GenesisL1Height uint64 `json:"genesis_l1_height"` // L1 height that triggers rollup genesis

	// Extra L1 blocks past genesis height before the chain activates.
	GenesisTriggerDelay uint64 `json:"genesis_trigger_delay"`

	OperatorConfig []OperatorKeys `json:"operator_config"`

	EvmGenesisBlockHash      common.Hash `json:"evm_genesis_block_hash"`
	EvmGenesisBlockStateRoot common.Hash `json:"evm_genesis_block_state_root"`

	L1ReorgSafeDepth  uint32 `json:"l1_reorg_safe_depth"`
	TargetL2BatchSize uint64 `json:"target_l2_batch_size"` // slots per epoch

	DepositAmount uint64 `json:"deposit_amount"` // sats, fixed denomination

	RollupVk []byte `json:"rollup_vk"` // groth16 verification key blob

	// Duration, in L1 blocks, an assigned operator has to fulfill a
	// withdrawal before it is reassigned.
	DispatchAssignmentDur uint32 `json:"dispatch_assignment_dur"`

	ProofPublishMode ProofPublishMode `json:"proof_publish_mode"`

	MaxDepositsInBlock uint8 `json:"max_deposits_in_block"`

	Network string `json:"network"` // mainnet | testnet | regtest | simnet
}

func (p *Params) Check() error {
	if len(p.RollupName) != 4 {
		return fmt.Errorf("rollup_name must be 4 bytes, got %q", p.RollupName)
	}
	if p.HorizonL1Height == 0 {
		return fmt.Errorf("horizon_l1_height must be nonzero")
	}
	if p.GenesisL1Height < p.HorizonL1Height {
		return fmt.Errorf("genesis_l1_height %d below horizon_l1_height %d", p.GenesisL1Height, p.HorizonL1Height)
	}
	if p.TargetL2BatchSize == 0 {
		return fmt.Errorf("target_l2_batch_size must be nonzero")
	}
	if p.DispatchAssignmentDur == 0 {
		return fmt.Errorf("dispatch_assignment_dur must be nonzero")
	}
	if p.NetParams() == nil {
		return fmt.Errorf("unknown network %q", p.Network)
	}
	return nil
}

// MagicBytes is the 4-byte tag scanned for in OP_RETURN outputs.
func (p *Params) MagicBytes() []byte {
	return []byte(p.RollupName)
}

// NetParams resolves the configured Bitcoin network.
func (p *Params) NetParams() *chaincfg.Params {
	switch p.Network {
	case "mainnet":
		return &chaincfg.MainNetParams
	case "testnet":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	case "simnet":
		return &chaincfg.SimNetParams
	default:
		return nil
	}
}

// DifficultyAdjustmentInterval is the retarget period in blocks (2016 on
// mainnet).
func (p *Params) DifficultyAdjustmentInterval() uint64 {
	net := p.NetParams()
	return uint64(net.TargetTimespan / net.TargetTimePerBlock)
}

func (p *Params) BlockTime() time.Duration {
	return time.Duration(p.BlockTimeMs) * time.Millisecond
}

func (p *Params) MarshalJSON() ([]byte, error) {
	type tmpParams Params
	tmp := struct {
		tmpParams
		RollupVk string `json:"rollup_vk"`
	}{
		tmpParams: tmpParams(*p),
		RollupVk:  common.Bytes2Hex(p.RollupVk),
	}
	return json.Marshal(tmp)
}

func (p *Params) UnmarshalJSON(data []byte) error {
	type tmpParams Params
	tmp := struct {
		tmpParams
		RollupVk string `json:"rollup_vk"`
	}{}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*p = Params(tmp.tmpParams)
	p.RollupVk = common.Hex2Bytes(tmp.RollupVk)
	return nil
}
