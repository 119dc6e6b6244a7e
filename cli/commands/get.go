package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func Get(env *Env) *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "get [order id]",
		Short: "Show an order with its on-chain state",
		Args:  cobra.ExactArgs(1),
		Run: func(c *cobra.Command, args []string) {
			view, err := env.client().Order(args[0])
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to get order: %w", err))
			}
			cobra.CheckErr(printJSON(view))
		},
		DisableAutoGenTag: true,
	}
	return cmd
}
