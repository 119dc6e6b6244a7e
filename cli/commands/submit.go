package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/catalogfi/xswap/pkg/coordinator"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func Submit(env *Env) *cobra.Command {
	var file string

	var cmd = &cobra.Command{
		Use:   "submit",
		Short: "Submit a signed order written by create --out",
		Run: func(c *cobra.Command, args []string) {
			data, err := os.ReadFile(file)
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to read order: %w", err))
			}
			var request coordinator.SubmitRequest
			if err := json.Unmarshal(data, &request); err != nil {
				cobra.CheckErr(fmt.Errorf("failed to unmarshal order: %w", err))
			}

			submission, err := env.client().SubmitOrder(request.Order, request.Signature)
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to submit order: %w", err))
			}
			color.Green("successfully submitted order with id %v", submission.OrderID)
			fmt.Printf("order hash: %v\n", submission.OrderHash.Hex())
		},
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringVar(&file, "order", "", "signed order file")
	cmd.MarkFlagRequired("order")
	return cmd
}
