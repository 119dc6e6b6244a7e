package commands

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/catalogfi/xswap/pkg/coordinator"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/catalogfi/xswap/pkg/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func Create(env *Env) *cobra.Command {
	var (
		srcChain      uint64
		dstChain      uint64
		contract      string
		domainName    string
		domainVersion string
		makerAsset    string
		takerAsset    string
		makerAmount   string
		takerAmount   string
		secretHash    string
		expiry        time.Duration
		slippage      uint32
		out           string
		submit        bool
	)

	var cmd = &cobra.Command{
		Use:   "create",
		Short: "Create and sign a new order",
		Run: func(c *cobra.Command, args []string) {
			key, err := env.key()
			cobra.CheckErr(err)
			contractAddr, err := util.ParseAddress(contract)
			cobra.CheckErr(err)
			makerAssetAddr, err := util.ParseAddress(makerAsset)
			cobra.CheckErr(err)
			takerAssetAddr, err := util.ParseAddress(takerAsset)
			cobra.CheckErr(err)
			makerAmountInt, ok := new(big.Int).SetString(makerAmount, 10)
			if !ok {
				cobra.CheckErr(fmt.Errorf("invalid maker amount %q", makerAmount))
			}
			takerAmountInt, ok := new(big.Int).SetString(takerAmount, 10)
			if !ok {
				cobra.CheckErr(fmt.Errorf("invalid taker amount %q", takerAmount))
			}

			var hash common.Hash
			if secretHash == "" {
				secret, generated, err := order.NewSecret()
				if err != nil {
					cobra.CheckErr(fmt.Errorf("failed to generate secret: %w", err))
				}
				hash = generated
				color.Yellow("generated secret %v, keep it to release the swap", hexutil.Encode(secret))
			} else {
				decoded, err := hexutil.Decode(secretHash)
				if err != nil || len(decoded) != common.HashLength {
					cobra.CheckErr(fmt.Errorf("invalid secret hash %q", secretHash))
				}
				hash = common.BytesToHash(decoded)
			}

			salt, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
			cobra.CheckErr(err)
			o := order.Order{
				Salt:             salt,
				Maker:            crypto.PubkeyToAddress(key.PublicKey),
				MakerAsset:       makerAssetAddr,
				TakerAsset:       takerAssetAddr,
				MakerAmount:      makerAmountInt,
				TakerAmount:      takerAmountInt,
				Deadline:         uint64(time.Now().Add(expiry).Unix()),
				SecretHash:       hash,
				SourceChain:      srcChain,
				DestinationChain: dstChain,
				SlippageBps:      slippage,
			}
			domain := order.NewDomain(srcChain, contractAddr)
			if domainName != "" {
				domain.Name = domainName
			}
			if domainVersion != "" {
				domain.Version = domainVersion
			}
			sig, err := order.Sign(o, domain, key)
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to sign order: %w", err))
			}
			request := coordinator.SubmitRequest{Order: o, Signature: sig}

			if out != "" {
				data, err := json.MarshalIndent(request, "", "  ")
				cobra.CheckErr(err)
				if err := os.WriteFile(out, data, 0644); err != nil {
					cobra.CheckErr(fmt.Errorf("failed to write order: %w", err))
				}
				fmt.Printf("signed order %v written to %v\n", order.Hash(o).Hex(), out)
			} else {
				cobra.CheckErr(printJSON(request))
			}

			if submit {
				submission, err := env.client().SubmitOrder(o, sig)
				if err != nil {
					cobra.CheckErr(fmt.Errorf("failed to submit order: %w", err))
				}
				color.Green("successfully submitted order with id %v", submission.OrderID)
			}
		},
		DisableAutoGenTag: true,
	}

	cmd.Flags().Uint64Var(&srcChain, "src-chain", 0, "chain id the maker pays on")
	cmd.MarkFlagRequired("src-chain")
	cmd.Flags().Uint64Var(&dstChain, "dst-chain", 0, "chain id the maker is paid on")
	cmd.MarkFlagRequired("dst-chain")
	cmd.Flags().StringVar(&contract, "contract", "", "order contract on the source chain")
	cmd.MarkFlagRequired("contract")
	cmd.Flags().StringVar(&domainName, "domain-name", "", "signing domain name (default: protocol default)")
	cmd.Flags().StringVar(&domainVersion, "domain-version", "", "signing domain version (default: protocol default)")
	cmd.Flags().StringVar(&makerAsset, "maker-asset", "", "asset the maker sells")
	cmd.MarkFlagRequired("maker-asset")
	cmd.Flags().StringVar(&takerAsset, "taker-asset", "", "asset the maker buys")
	cmd.MarkFlagRequired("taker-asset")
	cmd.Flags().StringVar(&makerAmount, "maker-amount", "", "amount sold, in base units")
	cmd.MarkFlagRequired("maker-amount")
	cmd.Flags().StringVar(&takerAmount, "taker-amount", "", "amount bought, in base units")
	cmd.MarkFlagRequired("taker-amount")
	cmd.Flags().StringVar(&secretHash, "secret-hash", "", "sha256 of the secret (default: generate a secret)")
	cmd.Flags().DurationVar(&expiry, "expiry", 10*time.Minute, "time until the order expires")
	cmd.Flags().Uint32Var(&slippage, "slippage", 0, "accepted shortfall of the taker amount in basis points")
	cmd.Flags().StringVar(&out, "out", "", "write the signed order to a file instead of stdout")
	cmd.Flags().BoolVar(&submit, "submit", false, "submit the order to the coordinator")
	return cmd
}
