package commands

import (
	"fmt"

	"github.com/catalogfi/xswap/pkg/coordinator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func Release(env *Env) *cobra.Command {
	var secret string

	var cmd = &cobra.Command{
		Use:   "release [order id]",
		Short: "Release the secret of an executed order to its resolver",
		Args:  cobra.ExactArgs(1),
		Run: func(c *cobra.Command, args []string) {
			key, err := env.key()
			cobra.CheckErr(err)
			decoded, err := hexutil.Decode(secret)
			if err != nil {
				cobra.CheckErr(fmt.Errorf("invalid secret: %w", err))
			}

			client := env.client()
			view, err := client.Order(args[0])
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to get order: %w", err))
			}
			sig, err := personalSign(key, coordinator.ReleaseMessage(common.HexToHash(view.Order.OrderHash)))
			cobra.CheckErr(err)

			if err := client.SubmitSecret(args[0], decoded, sig); err != nil {
				cobra.CheckErr(fmt.Errorf("failed to release secret: %w", err))
			}
			color.Green("secret released for order %v", args[0])
		},
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringVar(&secret, "secret", "", "hex secret of the order")
	cmd.MarkFlagRequired("secret")
	return cmd
}
