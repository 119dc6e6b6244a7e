package commands

import (
	"fmt"

	"github.com/catalogfi/xswap/pkg/order"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func Secret() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "secret",
		Short: "Generate a random secret and its hash",
		Run: func(c *cobra.Command, args []string) {
			secret, hash, err := order.NewSecret()
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to generate secret: %w", err))
			}
			color.Yellow("keep the secret until the resolver locked your funds")
			fmt.Printf("secret:      %v\n", hexutil.Encode(secret))
			fmt.Printf("secret hash: %v\n", hash.Hex())
		},
		DisableAutoGenTag: true,
	}
	return cmd
}
