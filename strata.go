// Command strata runs one rollup node over a simulated regtest chain:
// the L1 reader, the client state machine, sequencer block production
// and epoch sealing, the prover pool and the bridge duty engine. The
// devnet profile carries well-known keys, so a bare invocation brings
// up a self-contained chain.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/alpenlabs/strata-sub002/btcio"
	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/node"
	"github.com/alpenlabs/strata-sub002/params"
	"github.com/alpenlabs/strata-sub002/types"
)

// The devnet spec's pubkeys are derived from these well-known scalars:
// the sequencer credential is the secp256k1 generator, the operators
// are the BIP340 test vector keys. Any other network must supply keys
// through -seqkey / -opkey.
var devnetSequencerSecret = "0x0000000000000000000000000000000000000000000000000000000000000001"

var devnetOperatorSecrets = []string{
	"0x0000000000000000000000000000000000000000000000000000000000000003",
	"0xb7e151628aed2a6abf7158809cf4f3c762e7160f38b4da56a784d9045190cfef",
	"0xc90fdaa22168c234c4c6628b80dc1cd129024e088a67cc74020bbea63b14e5c8",
}

func main() {
	var (
		help      bool
		dataDir   string
		network   string
		nodeName  string
		rpcPort   int
		webPort   int
		logLevel  string
		modules   string
		sequencer bool
		seqKey    string
		operator  int
		opKey     string
		mineMs    int
	)
	flag.BoolVar(&help, "help", false, "Displays help information about the commands and flags.")
	flag.BoolVar(&help, "h", false, "Displays help information about the commands and flags.")
	flag.StringVar(&dataDir, "datadir", filepath.Join(os.Getenv("HOME"), ".strata"), "Specifies the directory for the node databases.")
	flag.StringVar(&network, "network", "devnet", "Rollup params: a well-known network id or the path to a spec file.")
	flag.StringVar(&nodeName, "nodename", "node0", "Node name; also the database subdirectory.")
	flag.IntVar(&rpcPort, "rpc", 8432, "RPC listening port. 0 disables the server.")
	flag.IntVar(&webPort, "web", 8433, "Status web port. 0 disables it.")
	flag.StringVar(&logLevel, "loglevel", "info", "Log level: max, trace, debug, info, warn, error, crit.")
	flag.StringVar(&modules, "modules", "", `Comma-separated module tags getting trace/debug logs, e.g. "csm_mod,reader_mod,writer_mod".`)
	flag.BoolVar(&sequencer, "sequencer", true, "Runs sequencer duties: block production, epoch sealing, checkpoint posting.")
	flag.StringVar(&seqKey, "seqkey", "", "Sequencer private key (32-byte hex). Defaults to the devnet credential on devnet.")
	flag.IntVar(&operator, "operator", -1, "Bridge operator index to run duties for. -1 disables operator duties.")
	flag.StringVar(&opKey, "opkey", "", "Operator private key (32-byte hex). Defaults to the devnet key for the index on devnet.")
	flag.IntVar(&mineMs, "mine", 2000, "Simulated L1 mining interval in ms. 0 disables the miner.")
	flag.Parse()

	if help {
		fmt.Println("Usage: strata [options]")
		flag.PrintDefaults()
		os.Exit(0)
	}

	log.InitLogger(logLevel)
	for _, mod := range strings.Split(modules, ",") {
		if mod = strings.TrimSpace(mod); mod != "" {
			log.EnableModule(mod)
		}
	}

	p, err := params.ReadSpec(network)
	if err != nil {
		log.Crit(log.NodeMonitoring, "unusable rollup params", "network", network, "err", err)
	}

	cfg := &node.Config{
		NodeName:      nodeName,
		DataDir:       filepath.Join(dataDir, nodeName),
		RPCPort:       rpcPort,
		WebPort:       webPort,
		PollInterval:  p.BlockTime() / 2,
		BlockInterval: p.BlockTime(),
	}
	if sequencer {
		cfg.SequencerKey = resolveKey(seqKey, network, devnetSequencerSecret, "sequencer")
	}
	if operator >= 0 {
		if operator >= len(p.OperatorConfig) {
			log.Crit(log.NodeMonitoring, "operator index outside the federation",
				"idx", operator, "operators", len(p.OperatorConfig))
		}
		fallback := ""
		if operator < len(devnetOperatorSecrets) {
			fallback = devnetOperatorSecrets[operator]
		}
		cfg.OperatorKey = resolveKey(opKey, network, fallback, "operator")
		cfg.OperatorIdx = types.OperatorIdx(operator)
	}

	// the simulated chain starts mined to the genesis trigger so the
	// rollup activates on the reader's first pass
	chain := btcio.NewFakeChain(p.NetParams())
	chain.ExtendN(int(p.GenesisL1Height))
	if sequencer {
		for i := 0; i < 4; i++ {
			chain.AddUtxo(100000000) // 1 BTC per envelope-funding utxo
		}
	}

	n, err := node.NewNode(cfg, p, chain)
	if err != nil {
		log.Crit(log.NodeMonitoring, "node assembly failed", "err", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := n.Start(ctx); err != nil {
		log.Crit(log.NodeMonitoring, "node start failed", "err", err)
	}
	log.Info(log.NodeMonitoring, "strata running", "name", nodeName,
		"network", network, "commit", common.GetCommitHash(),
		"datadir", cfg.DataDir)

	if mineMs > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(mineMs) * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					chain.MineMempool()
				}
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info(log.NodeMonitoring, "shutting down", "name", nodeName)
	cancel()
	n.Stop()
}

// resolveKey parses the flag-supplied key, falling back to the devnet
// scalar when running the devnet profile. Anything else is fatal: a
// signing role without a key cannot run.
func resolveKey(hexKey, network, devnetFallback, role string) *btcec.PrivateKey {
	if hexKey == "" {
		if network != "devnet" || devnetFallback == "" {
			log.Crit(log.NodeMonitoring, "missing private key", "role", role, "network", network)
		}
		hexKey = devnetFallback
	}
	raw := common.FromHex(hexKey)
	if len(raw) != 32 {
		log.Crit(log.NodeMonitoring, "private key must be 32 bytes", "role", role, "got", len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return priv
}
