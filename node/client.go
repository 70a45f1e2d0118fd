package node

import (
	"encoding/json"
	"fmt"
	"net/rpc"
	"strconv"

	"github.com/alpenlabs/strata-sub002/bridge"
	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/prover"
	"github.com/alpenlabs/strata-sub002/storage"
	"github.com/alpenlabs/strata-sub002/types"
)

// NodeClient wraps a net/rpc connection to a node's "strata" service.
type NodeClient struct {
	Client *rpc.Client
}

func Dial(address string) (*NodeClient, error) {
	client, err := rpc.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return &NodeClient{Client: client}, nil
}

func (c *NodeClient) Close() error {
	return c.Client.Close()
}

// Call invokes an arbitrary strata method. The console uses this for
// methods without a typed wrapper.
func (c *NodeClient) Call(method string, args []string) (string, error) {
	var res string
	err := c.Client.Call("strata."+method, args, &res)
	return res, err
}

func (c *NodeClient) GetFunctions() (string, error) {
	var res string
	err := c.Client.Call("strata.GetFunctions", []string{}, &res)
	return res, err
}

func (c *NodeClient) GetBuildVersion() (string, error) {
	var res string
	err := c.Client.Call("strata.GetBuildVersion", []string{}, &res)
	return res, err
}

func (c *NodeClient) GetClientState() (*types.ClientState, uint64, error) {
	var res string
	err := c.Client.Call("strata.GetClientState", []string{}, &res)
	if err != nil {
		return nil, 0, err
	}
	var out struct {
		State    *types.ClientState `json:"state"`
		EventIdx uint64             `json:"event_idx"`
	}
	if err := json.Unmarshal([]byte(res), &out); err != nil {
		return nil, 0, fmt.Errorf("unmarshal client state: %w", err)
	}
	return out.State, out.EventIdx, nil
}

func (c *NodeClient) GetChainstate() (*types.Chainstate, error) {
	return c.getChainstate([]string{})
}

func (c *NodeClient) GetChainstateAt(slot uint64) (*types.Chainstate, error) {
	return c.getChainstate([]string{strconv.FormatUint(slot, 10)})
}

func (c *NodeClient) getChainstate(req []string) (*types.Chainstate, error) {
	var res string
	err := c.Client.Call("strata.GetChainstate", req, &res)
	if err != nil {
		return nil, err
	}
	var cs types.Chainstate
	if err := json.Unmarshal([]byte(res), &cs); err != nil {
		return nil, fmt.Errorf("unmarshal chainstate: %w", err)
	}
	return &cs, nil
}

func (c *NodeClient) GetDeposits() (*types.DepositsTable, error) {
	var res string
	err := c.Client.Call("strata.GetDeposits", []string{}, &res)
	if err != nil {
		return nil, err
	}
	var table types.DepositsTable
	if err := json.Unmarshal([]byte(res), &table); err != nil {
		return nil, fmt.Errorf("unmarshal deposits table: %w", err)
	}
	return &table, nil
}

func (c *NodeClient) GetOperatorTable() (*types.OperatorTable, error) {
	var res string
	err := c.Client.Call("strata.GetOperatorTable", []string{}, &res)
	if err != nil {
		return nil, err
	}
	var table types.OperatorTable
	if err := json.Unmarshal([]byte(res), &table); err != nil {
		return nil, fmt.Errorf("unmarshal operator table: %w", err)
	}
	return &table, nil
}

func (c *NodeClient) GetBlockTree() (string, error) {
	var res string
	err := c.Client.Call("strata.GetBlockTree", []string{}, &res)
	return res, err
}

func (c *NodeClient) GetCheckpoint(epoch uint64) (*storage.CheckpointEntry, error) {
	req := []string{strconv.FormatUint(epoch, 10)}
	var res string
	err := c.Client.Call("strata.GetCheckpoint", req, &res)
	if err != nil {
		return nil, err
	}
	var entry storage.CheckpointEntry
	if err := json.Unmarshal([]byte(res), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint entry: %w", err)
	}
	return &entry, nil
}

func (c *NodeClient) SubmitSyncEvent(ev types.SyncEvent) (uint64, error) {
	evBytes, err := types.MarshalEvent(ev)
	if err != nil {
		return 0, err
	}
	var res string
	if err := c.Client.Call("strata.SubmitSyncEvent", []string{string(evBytes)}, &res); err != nil {
		return 0, err
	}
	return strconv.ParseUint(res, 10, 64)
}

func (c *NodeClient) SubmitL2Block(blk *types.L2Block) (uint64, error) {
	blkBytes, err := json.Marshal(blk)
	if err != nil {
		return 0, err
	}
	var res string
	if err := c.Client.Call("strata.SubmitL2Block", []string{string(blkBytes)}, &res); err != nil {
		return 0, err
	}
	return strconv.ParseUint(res, 10, 64)
}

func (c *NodeClient) SubmitBridgeMessage(msg *bridge.BridgeMessage) error {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var res string
	return c.Client.Call("strata.SubmitBridgeMessage", []string{string(msgBytes)}, &res)
}

func (c *NodeClient) SubmitProofWitness(key prover.ProofKey, witness []byte) (string, error) {
	keyBytes, err := json.Marshal(key)
	if err != nil {
		return "", err
	}
	req := []string{string(keyBytes), common.Bytes2Hex(witness)}
	var res string
	err = c.Client.Call("strata.SubmitProofWitness", req, &res)
	return res, err
}

func (c *NodeClient) SubmitCheckpointProof(epoch uint64, proof []byte) error {
	req := []string{strconv.FormatUint(epoch, 10), common.Bytes2Hex(proof)}
	var res string
	return c.Client.Call("strata.SubmitCheckpointProof", req, &res)
}

func (c *NodeClient) GetTaskStatus(key prover.ProofKey) (string, error) {
	keyBytes, err := json.Marshal(key)
	if err != nil {
		return "", err
	}
	var res string
	err = c.Client.Call("strata.GetTaskStatus", []string{string(keyBytes)}, &res)
	return res, err
}

func (c *NodeClient) GetTasksByStatus(status string) ([]prover.ProofKey, error) {
	var res string
	err := c.Client.Call("strata.GetTasksByStatus", []string{status}, &res)
	if err != nil {
		return nil, err
	}
	var keys []prover.ProofKey
	if err := json.Unmarshal([]byte(res), &keys); err != nil {
		return nil, fmt.Errorf("unmarshal proof keys: %w", err)
	}
	return keys, nil
}
