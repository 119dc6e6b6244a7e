// Package cli is the xswapctl command line for makers: it creates and signs
// orders, submits them to a coordinator and releases their secrets.
package cli

import (
	"os"

	"github.com/catalogfi/xswap/cli/commands"
	"github.com/spf13/cobra"
)

func Run(version string) error {
	env := &commands.Env{
		URL: os.Getenv("XSWAP_URL"),
		Key: os.Getenv("PRIVATE_KEY"),
	}
	if env.URL == "" {
		env.URL = "http://localhost:8080"
	}

	var cmd = &cobra.Command{
		Use:   "xswapctl",
		Short: "Create, submit and settle cross-chain swap orders",
		Run: func(c *cobra.Command, args []string) {
			c.HelpFunc()(c, args)
		},
		Version:           version,
		DisableAutoGenTag: true,
	}
	cmd.PersistentFlags().StringVar(&env.URL, "url", env.URL, "coordinator url (env XSWAP_URL)")
	cmd.PersistentFlags().StringVar(&env.Key, "key", env.Key, "hex private key of the maker (env PRIVATE_KEY)")

	cmd.AddCommand(commands.Secret())
	cmd.AddCommand(commands.Create(env))
	cmd.AddCommand(commands.Submit(env))
	cmd.AddCommand(commands.List(env))
	cmd.AddCommand(commands.Get(env))
	cmd.AddCommand(commands.Release(env))
	cmd.AddCommand(commands.Cancel(env))
	return cmd.Execute()
}
