package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "coinvault <command> [arguments]",
		Short:         "coinvault keeps encrypted Ethereum, ERC20 and Bitcoin wallets.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example:       "coinvault --config coinvault.yaml --user alice balance",
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&opts.userID, "user", "u", "", "user id")

	rootCmd.AddCommand(
		newRegisterCommand(opts),
		newAddCommand(opts),
		newListCommand(opts),
		newBalanceCommand(opts),
		newSendCommand(opts),
		newHistoryCommand(opts),
		newRemoveCommand(opts),
	)
	return rootCmd
}
