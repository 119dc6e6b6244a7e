package commands

import (
	"fmt"

	"github.com/catalogfi/xswap/pkg/coordinator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func Cancel(env *Env) *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "cancel [order id]",
		Short: "Withdraw a pending order from the coordinator",
		Args:  cobra.ExactArgs(1),
		Run: func(c *cobra.Command, args []string) {
			key, err := env.key()
			cobra.CheckErr(err)

			client := env.client()
			view, err := client.Order(args[0])
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to get order: %w", err))
			}
			sig, err := personalSign(key, coordinator.CancelMessage(common.HexToHash(view.Order.OrderHash)))
			cobra.CheckErr(err)

			if err := client.CancelOrder(args[0], sig); err != nil {
				cobra.CheckErr(fmt.Errorf("failed to cancel order: %w", err))
			}
			color.Green("order %v cancelled", args[0])
		},
		DisableAutoGenTag: true,
	}
	return cmd
}
