// Datatool - key, params and address tooling for strata deployments
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/spf13/cobra"

	"github.com/alpenlabs/strata-sub002/bridge"
	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/params"
	"github.com/alpenlabs/strata-sub002/types"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "datatool",
		Short: "Strata key, params and address tooling",
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	var keyCount int
	var keygenCmd = &cobra.Command{
		Use:   "keygen",
		Short: "Generate schnorr keypairs for sequencer or operator roles",
		Run: func(cmd *cobra.Command, args []string) {
			for i := 0; i < keyCount; i++ {
				priv, err := btcec.NewPrivateKey()
				if err != nil {
					fmt.Printf("❌ Key generation failed: %v\n", err)
					os.Exit(1)
				}
				fmt.Printf("private:       %x\n", priv.Serialize())
				fmt.Printf("x-only pubkey: %x\n", schnorr.SerializePubKey(priv.PubKey()))
			}
		},
	}
	keygenCmd.Flags().IntVar(&keyCount, "count", 1, "Number of keypairs to generate")

	var (
		base      string
		name      string
		seqPubkey string
		operators string
		horizon   uint64
		genesis   uint64
		batchSize uint64
		netName   string
		outFile   string
	)
	var genparamsCmd = &cobra.Command{
		Use:   "genparams",
		Short: "Emit a rollup params spec from a base spec plus overrides",
		Run: func(cmd *cobra.Command, args []string) {
			p, err := params.ReadSpec(base)
			if err != nil {
				fmt.Printf("❌ Failed to read base spec %s: %v\n", base, err)
				os.Exit(1)
			}
			if name != "" {
				p.RollupName = name
			}
			if seqPubkey != "" {
				p.CredRule = common.HexToHash(seqPubkey)
			}
			if operators != "" {
				cfg := make([]params.OperatorKeys, 0)
				for _, k := range strings.Split(operators, ",") {
					key := common.HexToHash(strings.TrimSpace(k))
					// one key serves both roles, the devnet pattern
					cfg = append(cfg, params.OperatorKeys{Signing: key, Wallet: key})
				}
				p.OperatorConfig = cfg
			}
			if horizon > 0 {
				p.HorizonL1Height = horizon
			}
			if genesis > 0 {
				p.GenesisL1Height = genesis
			}
			if batchSize > 0 {
				p.TargetL2BatchSize = batchSize
			}
			if netName != "" {
				p.Network = netName
			}
			if err := p.Check(); err != nil {
				fmt.Printf("❌ Params invalid: %v\n", err)
				os.Exit(1)
			}
			data, err := json.MarshalIndent(p, "", "  ")
			if err != nil {
				fmt.Printf("❌ Marshal failed: %v\n", err)
				os.Exit(1)
			}
			if outFile == "" {
				fmt.Println(string(data))
				return
			}
			if err := os.WriteFile(outFile, append(data, '\n'), 0644); err != nil {
				fmt.Printf("❌ Write failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("✓ Wrote %s\n", outFile)
		},
	}
	genparamsCmd.Flags().StringVar(&base, "base", "devnet", "Base spec: a well-known network id or a spec file path")
	genparamsCmd.Flags().StringVar(&name, "name", "", "Rollup name (4 characters, becomes the OP_RETURN magic)")
	genparamsCmd.Flags().StringVar(&seqPubkey, "seq-pubkey", "", "Sequencer credential x-only pubkey (hex)")
	genparamsCmd.Flags().StringVar(&operators, "operators", "", "Comma-separated operator x-only pubkeys (hex)")
	genparamsCmd.Flags().Uint64Var(&horizon, "horizon", 0, "Horizon L1 height")
	genparamsCmd.Flags().Uint64Var(&genesis, "genesis", 0, "Genesis trigger L1 height")
	genparamsCmd.Flags().Uint64Var(&batchSize, "batch-size", 0, "Slots per epoch")
	genparamsCmd.Flags().StringVar(&netName, "network", "", "Bitcoin network: mainnet, testnet, regtest, simnet")
	genparamsCmd.Flags().StringVar(&outFile, "out", "", "Output file; stdout when empty")

	var derivePath string
	var descriptorCmd = &cobra.Command{
		Use:   "descriptor [key-expr]",
		Short: "Render a checksummed tr() descriptor around a key expression",
		Long: "Without -derive the argument wraps verbatim as tr(expr)#checksum.\n" +
			"With -derive the argument must be an extended key; the path is\n" +
			"derived and the descriptor carries the master fingerprint and\n" +
			"origin, Core's import format.",
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			expr := args[0]
			if derivePath != "" {
				derived, err := deriveKeyExpr(args[0], derivePath)
				if err != nil {
					fmt.Printf("❌ Derivation failed: %v\n", err)
					os.Exit(1)
				}
				expr = derived
			}
			desc, err := bridge.TrDescriptor(expr)
			if err != nil {
				fmt.Printf("❌ Descriptor failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(desc)
		},
	}
	descriptorCmd.Flags().StringVar(&derivePath, "derive", "", `Derivation path from the master key, e.g. "m/86h/0h/0h"`)

	var aggNet string
	var aggAddrCmd = &cobra.Command{
		Use:   "agg-addr [pubkey]...",
		Short: "Derive the federation's aggregate key and taproot address",
		Long: "Aggregates the given x-only pubkeys with MuSig2 in argument order\n" +
			"and derives the key-spend taproot address, the way every operator\n" +
			"derives the shared deposit address from the operator table.",
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			entries := make([]bridge.PublickeyEntry, 0, len(args))
			for i, arg := range args {
				key, err := schnorr.ParsePubKey(common.FromHex(arg))
				if err != nil {
					fmt.Printf("❌ Bad pubkey %d: %v\n", i, err)
					os.Exit(1)
				}
				entries = append(entries, bridge.PublickeyEntry{Idx: types.OperatorIdx(i), Key: key})
			}
			table, err := bridge.NewPublickeyTable(entries)
			if err != nil {
				fmt.Printf("❌ Pubkey table failed: %v\n", err)
				os.Exit(1)
			}
			agg, err := table.AggregateKey()
			if err != nil {
				fmt.Printf("❌ Aggregation failed: %v\n", err)
				os.Exit(1)
			}
			net := (&params.Params{Network: aggNet}).NetParams()
			if net == nil {
				fmt.Printf("❌ Unknown network %q\n", aggNet)
				os.Exit(1)
			}
			addr, err := bridge.CreateTaprootAddr(net, agg, nil)
			if err != nil {
				fmt.Printf("❌ Address derivation failed: %v\n", err)
				os.Exit(1)
			}
			script, err := bridge.TaprootPkScript(addr)
			if err != nil {
				fmt.Printf("❌ Script derivation failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("aggregate key: %x\n", schnorr.SerializePubKey(agg))
			fmt.Printf("address:       %s\n", addr.String())
			fmt.Printf("pkscript:      %x\n", script)
		},
	}
	aggAddrCmd.Flags().StringVar(&aggNet, "network", "regtest", "Bitcoin network for the address encoding")

	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(genparamsCmd)
	rootCmd.AddCommand(descriptorCmd)
	rootCmd.AddCommand(aggAddrCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// deriveKeyExpr walks the path below the given extended key and renders
// the origin-annotated expression Core expects in import descriptors:
// [fingerprint/path]xkey/0/*.
func deriveKeyExpr(base, path string) (string, error) {
	master, err := hdkeychain.NewKeyFromString(base)
	if err != nil {
		return "", err
	}
	pub, err := master.ECPubKey()
	if err != nil {
		return "", err
	}
	fp := btcutil.Hash160(pub.SerializeCompressed())[:4]

	steps, err := parseDerivationPath(path)
	if err != nil {
		return "", err
	}
	key := master
	for _, step := range steps {
		if key, err = key.Derive(step); err != nil {
			return "", err
		}
	}
	origin := strings.TrimPrefix(path, "m")
	return fmt.Sprintf("[%x%s]%s/0/*", fp, origin, key.String()), nil
}

// parseDerivationPath accepts m/a/b/c with h or ' marking hardened
// steps.
func parseDerivationPath(path string) ([]uint32, error) {
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] != "m" {
		return nil, fmt.Errorf("path must start with m/")
	}
	steps := make([]uint32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "h") || strings.HasSuffix(part, "'")
		if hardened {
			part = part[:len(part)-1]
		}
		idx, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad path element %q", part)
		}
		if idx >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("path element %d out of range", idx)
		}
		if hardened {
			idx += hdkeychain.HardenedKeyStart
		}
		steps = append(steps, uint32(idx))
	}
	return steps, nil
}
