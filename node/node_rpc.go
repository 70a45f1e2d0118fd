package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"strconv"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/alpenlabs/strata-sub002/bridge"
	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/prover"
	"github.com/alpenlabs/strata-sub002/types"
)

// Strata is the RPC surface registered as "strata". Every method takes
// a string slice request and writes a string response, JSON where the
// result is structured.
type Strata struct {
	node *Node
}

var MethodDescriptionMap = map[string]string{
	"Functions":      "Functions() -> functions description",
	"GetFunctions":   "GetFunctions() -> functions description",
	"GetBuildVersion": "GetBuildVersion() -> commit hash string",

	"GetClientState":   "GetClientState() -> json {state, event_idx}",
	"GetChainstate":    "GetChainstate(slot string?) -> json chainstate, latest when no slot given",
	"GetDeposits":      "GetDeposits() -> json deposits table",
	"GetOperatorTable": "GetOperatorTable() -> json operator table",
	"GetBlockTree":     "GetBlockTree() -> rendered unfinalized block tree",
	"GetCheckpoint":    "GetCheckpoint(epoch string) -> json checkpoint entry",

	"SubmitSyncEvent":      "SubmitSyncEvent(eventJson string) -> event idx",
	"SubmitL2Block":        "SubmitL2Block(blockJson string) -> event idx",
	"SubmitBridgeMessage":  "SubmitBridgeMessage(messageJson string) -> ok",
	"SubmitProofWitness":   "SubmitProofWitness(keyJson string, witness hexstring) -> submission status",
	"SubmitCheckpointProof": "SubmitCheckpointProof(epoch string, proof hexstring) -> ok",

	"GetTaskStatus":    "GetTaskStatus(keyJson string) -> proving task status",
	"GetTasksByStatus": "GetTasksByStatus(status string) -> json proof keys",
}

func (s *Strata) Functions(req []string, res *string) error {
	*res = ""
	maxKeyLen := 0
	keys := maps.Keys(MethodDescriptionMap)
	slices.Sort(keys)
	for _, k := range keys {
		if len(k) > maxKeyLen {
			maxKeyLen = len(k)
		}
	}
	format := fmt.Sprintf("%%-%ds: %%s\n", maxKeyLen)
	for _, k := range keys {
		*res += fmt.Sprintf(format, k, MethodDescriptionMap[k])
	}
	return nil
}

// GetFunctions mirrors Functions; the console calls it on startup.
func (s *Strata) GetFunctions(req []string, res *string) error {
	return s.Functions(req, res)
}

func (s *Strata) GetBuildVersion(req []string, res *string) error {
	*res = common.GetCommitHash()
	return nil
}

func (s *Strata) GetClientState(req []string, res *string) error {
	state, idx := s.node.ClientState()
	out, err := json.Marshal(map[string]any{
		"state":     state,
		"event_idx": idx,
	})
	if err != nil {
		return err
	}
	*res = string(out)
	return nil
}

func (s *Strata) GetChainstate(req []string, res *string) error {
	var cs *types.Chainstate
	if len(req) > 0 && req[0] != "" {
		slot, err := strconv.ParseUint(req[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad slot %q: %w", req[0], err)
		}
		cs, err = s.node.ChainstateAt(slot)
		if err != nil {
			return err
		}
	} else {
		cs = s.node.CurChainstate()
	}
	if cs == nil {
		return errors.New("no chainstate, chain not active yet")
	}
	out, err := json.Marshal(cs)
	if err != nil {
		return err
	}
	*res = string(out)
	return nil
}

func (s *Strata) GetDeposits(req []string, res *string) error {
	cs := s.node.CurChainstate()
	if cs == nil {
		return errors.New("no chainstate, chain not active yet")
	}
	out, err := json.Marshal(cs.DepositsTable)
	if err != nil {
		return err
	}
	*res = string(out)
	return nil
}

func (s *Strata) GetOperatorTable(req []string, res *string) error {
	cs := s.node.CurChainstate()
	if cs == nil {
		return errors.New("no chainstate, chain not active yet")
	}
	out, err := json.Marshal(cs.OperatorTable)
	if err != nil {
		return err
	}
	*res = string(out)
	return nil
}

func (s *Strata) GetBlockTree(req []string, res *string) error {
	*res = s.node.BlockTree()
	return nil
}

func (s *Strata) GetCheckpoint(req []string, res *string) error {
	if len(req) < 1 {
		return errors.New("usage: GetCheckpoint(epoch)")
	}
	epoch, err := strconv.ParseUint(req[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad epoch %q: %w", req[0], err)
	}
	entry, err := s.node.store.GetCheckpointEntry(epoch)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("no checkpoint for epoch %d", epoch)
	}
	out, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	*res = string(out)
	return nil
}

// SubmitSyncEvent injects a raw sync event. Meant for tests and manual
// driving; a live node gets its events from the reader.
func (s *Strata) SubmitSyncEvent(req []string, res *string) error {
	if len(req) < 1 {
		return errors.New("usage: SubmitSyncEvent(eventJson)")
	}
	ev, err := types.UnmarshalEvent([]byte(req[0]))
	if err != nil {
		return err
	}
	idx, err := s.node.SubmitEvent(ev)
	if err != nil {
		return err
	}
	*res = strconv.FormatUint(idx, 10)
	return nil
}

func (s *Strata) SubmitL2Block(req []string, res *string) error {
	if len(req) < 1 {
		return errors.New("usage: SubmitL2Block(blockJson)")
	}
	var blk types.L2Block
	if err := json.Unmarshal([]byte(req[0]), &blk); err != nil {
		return err
	}
	idx, err := s.node.SubmitL2Block(&blk)
	if err != nil {
		return err
	}
	*res = strconv.FormatUint(idx, 10)
	return nil
}

func (s *Strata) SubmitBridgeMessage(req []string, res *string) error {
	if len(req) < 1 {
		return errors.New("usage: SubmitBridgeMessage(messageJson)")
	}
	var msg bridge.BridgeMessage
	if err := json.Unmarshal([]byte(req[0]), &msg); err != nil {
		return err
	}
	s.node.SubmitBridgeMessage(&msg)
	*res = "ok"
	return nil
}

func (s *Strata) SubmitProofWitness(req []string, res *string) error {
	if len(req) < 2 {
		return errors.New("usage: SubmitProofWitness(keyJson, witnessHex)")
	}
	var key prover.ProofKey
	if err := json.Unmarshal([]byte(req[0]), &key); err != nil {
		return err
	}
	witness := common.Hex2Bytes(req[1])
	status, err := s.node.prover.SubmitWitness(key, witness)
	if err != nil {
		return err
	}
	*res = status.String()
	return nil
}

func (s *Strata) SubmitCheckpointProof(req []string, res *string) error {
	if len(req) < 2 {
		return errors.New("usage: SubmitCheckpointProof(epoch, proofHex)")
	}
	epoch, err := strconv.ParseUint(req[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad epoch %q: %w", req[0], err)
	}
	if err := s.node.AttachCheckpointProof(epoch, common.Hex2Bytes(req[1])); err != nil {
		return err
	}
	*res = "ok"
	return nil
}

func (s *Strata) GetTaskStatus(req []string, res *string) error {
	if len(req) < 1 {
		return errors.New("usage: GetTaskStatus(keyJson)")
	}
	var key prover.ProofKey
	if err := json.Unmarshal([]byte(req[0]), &key); err != nil {
		return err
	}
	status, err := s.node.prover.TaskStatus(key)
	if err != nil {
		return err
	}
	*res = status.String()
	return nil
}

func (s *Strata) GetTasksByStatus(req []string, res *string) error {
	if len(req) < 1 {
		return errors.New("usage: GetTasksByStatus(status)")
	}
	var want prover.ProvingTaskStatus
	if err := json.Unmarshal([]byte(strconv.Quote(req[0])), &want); err != nil {
		return err
	}
	keys := s.node.prover.TasksByStatus(func(st prover.ProvingTaskStatus) bool {
		return st == want
	})
	out, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	*res = string(out)
	return nil
}

// server ========================================

func (n *Node) startRPC() error {
	srv := rpc.NewServer()
	if err := srv.RegisterName("strata", &Strata{node: n}); err != nil {
		return err
	}
	address := fmt.Sprintf(":%d", n.config.RPCPort)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("rpc listen on %s: %w", address, err)
	}
	n.rpcListener = listener
	log.Info(log.RPCMonitoring, "rpc server listening", "address", address)

	n.done.Add(1)
	go func() {
		defer n.done.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Warn(log.RPCMonitoring, "rpc accept failed", "err", err)
				continue
			}
			go srv.ServeConn(conn)
		}
	}()
	return nil
}

func (n *Node) stopRPC() {
	if n.rpcListener != nil {
		n.rpcListener.Close()
	}
}
