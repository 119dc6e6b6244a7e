package commands

import (
	"fmt"

	"github.com/catalogfi/xswap/pkg/rest"
	"github.com/catalogfi/xswap/pkg/store"
	"github.com/catalogfi/xswap/pkg/util"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/table"
	"github.com/spf13/cobra"
)

func List(env *Env) *cobra.Command {
	var (
		maker  string
		status string
	)

	var cmd = &cobra.Command{
		Use:   "list",
		Short: "List the orders of the coordinator",
		Run: func(c *cobra.Command, args []string) {
			filter := rest.Filter{Status: store.Status(status)}
			if maker != "" {
				addr, err := util.ParseAddress(maker)
				cobra.CheckErr(err)
				filter.Maker = addr
			}

			orders, err := env.client().Orders(filter)
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to list orders: %w", err))
			}

			t := table.NewWriter()
			t.SetStyle(table.StyleRounded)
			t.SetOutputMirror(c.OutOrStdout())
			t.AppendHeader(table.Row{"Order ID", "Status", "Route", "Maker", "Resolver"})
			rows := make([]table.Row, len(orders))
			for i, o := range orders {
				rows[i] = table.Row{o.OrderID, colorStatus(o.Status), fmt.Sprintf("%v -> %v", o.SourceChain, o.DestinationChain), o.Maker, o.Resolver}
			}
			t.AppendRows(rows)
			t.Render()
		},
		DisableAutoGenTag: true,
	}

	cmd.Flags().StringVar(&maker, "maker", "", "maker address to filter with (default: any)")
	cmd.Flags().StringVar(&status, "status", "", "status to filter with: pending, picked, executed or cancelled (default: any)")
	return cmd
}

func colorStatus(status store.Status) string {
	switch status {
	case store.Executed:
		return color.GreenString(string(status))
	case store.Picked:
		return color.YellowString(string(status))
	case store.Cancelled:
		return color.RedString(string(status))
	default:
		return string(status)
	}
}
