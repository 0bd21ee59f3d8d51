package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/olehkaliuzhnyi/coinvault/internal/apperr"
	"github.com/olehkaliuzhnyi/coinvault/internal/vault"
	"github.com/olehkaliuzhnyi/coinvault/internal/wallet"
	"github.com/olehkaliuzhnyi/coinvault/pkg/models"
	"github.com/spf13/cobra"
)

func newRegisterCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create a user and print a new seed phrase",
		Long:  "Create a user and print a new seed phrase. Registering an existing user id replaces its seed phrase.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			seed, err := wallet.GenerateSeed()
			if err != nil {
				return err
			}
			if err := a.creds.Register(ctx, opts.userID, seed); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Write down this seed phrase. It unlocks your wallets and cannot be shown again:")
			fmt.Fprintln(out, seed)
			return nil
		},
	}
}

func newAddCommand(opts *globalOptions) *cobra.Command {
	var (
		kind     string
		source   string
		keyHex   string
		address  string
		contract string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a wallet and save the vault",
		Example: `  coinvault -u alice add --kind Ethereum
  coinvault -u alice add --kind ERC20 --contract 0x1c7d4b196cb0c7b01d743fbc6116a902379c7238
  coinvault -u alice add --kind Bitcoin --source seed
  coinvault -u alice add --kind Ethereum --source recover
  coinvault -u alice add --kind Ethereum --source import --key <hex>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := vault.WalletSpec{
				Kind:     models.ChainKind(kind),
				KeyHex:   keyHex,
				Address:  address,
				Contract: contract,
			}
			switch strings.ToLower(source) {
			case "random":
				spec.Source = vault.SourceRandom
			case "seed", "recover":
				spec.Source = vault.SourceSeed
			case "import":
				spec.Source = vault.SourceImport
			default:
				return apperr.New(apperr.CodeInvalidWallet, "add", "unknown source %q", source)
			}

			ctx := cmd.Context()
			return withVault(ctx, opts, func(a *app, v *vault.Vault) error {
				if strings.EqualFold(source, "recover") {
					seed, err := readSeed("Seed phrase to recover: ")
					if err != nil {
						return err
					}
					spec.Seed = seed
				}
				w, err := v.AddWallet(ctx, spec)
				if err != nil {
					return err
				}
				if err := v.SaveAll(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s wallet %s added\n", w.CurrencyName(), w.Address)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(models.ChainEthereum), "chain kind: Ethereum, Bitcoin or ERC20")
	cmd.Flags().StringVar(&source, "source", "random", "key source: random, seed, recover or import")
	cmd.Flags().StringVar(&keyHex, "key", "", "private key hex for --source import")
	cmd.Flags().StringVar(&address, "address", "", "expected address for --source import")
	cmd.Flags().StringVar(&contract, "contract", "", "token contract address for ERC20")
	return cmd
}

func newListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List wallets in the vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd.Context(), opts, func(a *app, v *vault.Vault) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "#\tCURRENCY\tKIND\tADDRESS\tCONTRACT")
				for i, w := range v.Wallets() {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, w.CurrencyName(), w.Kind, w.Address, w.ContractAddress)
				}
				return tw.Flush()
			})
		},
	}
}

// walletSelector narrows an address to one wallet when an Ethereum and an
// ERC20 wallet share it.
type walletSelector struct {
	kind     string
	contract string
}

func (s *walletSelector) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.kind, "kind", "", "wallet kind at the address: Ethereum, Bitcoin or ERC20")
	cmd.Flags().StringVar(&s.contract, "contract", "", "token contract of the wallet at the address")
}

// all returns every wallet when no address is given, otherwise the wallets
// at address that match the selector.
func (s *walletSelector) all(v *vault.Vault, args []string) ([]*vault.Wallet, error) {
	if len(args) == 0 {
		return v.Wallets(), nil
	}
	wallets := v.Match(args[0], models.ChainKind(s.kind), s.contract)
	if len(wallets) == 0 {
		return nil, apperr.New(apperr.CodeInvalidWallet, "selectWallets", "no wallet at %s matches", args[0])
	}
	return wallets, nil
}

// one returns the single wallet at address that matches the selector.
func (s *walletSelector) one(v *vault.Vault, address string) (*vault.Wallet, error) {
	wallets, err := s.all(v, []string{address})
	if err != nil {
		return nil, err
	}
	if len(wallets) > 1 {
		return nil, apperr.New(apperr.CodeInvalidWallet, "selectWallet", "%d wallets at %s; pass --kind or --contract", len(wallets), address)
	}
	return wallets[0], nil
}

func newBalanceCommand(opts *globalOptions) *cobra.Command {
	sel := &walletSelector{}
	cmd := &cobra.Command{
		Use:   "balance [address]",
		Short: "Show balances of one or all wallets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withVault(ctx, opts, func(a *app, v *vault.Vault) error {
				wallets, err := sel.all(v, args)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, w := range wallets {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", w.Address, w.Balance(ctx), w.CurrencyName())
				}
				return tw.Flush()
			})
		},
	}
	sel.register(cmd)
	return cmd
}

func newSendCommand(opts *globalOptions) *cobra.Command {
	sel := &walletSelector{}
	cmd := &cobra.Command{
		Use:   "send <from> <to> <amount>",
		Short: "Send funds and wait for confirmation",
		Example: `  coinvault -u alice send 0x7e5f4552091a69125d5dfcb7b8c2659029395bdf 0x2b5ad5c4795c026514f8317c7a215e218dccd6cf 0.01
  coinvault -u alice send --kind ERC20 0x7e5f4552091a69125d5dfcb7b8c2659029395bdf 0x2b5ad5c4795c026514f8317c7a215e218dccd6cf 5`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withVault(ctx, opts, func(a *app, v *vault.Vault) error {
				w, err := sel.one(v, args[0])
				if err != nil {
					return err
				}
				hash, err := w.Send(ctx, args[1], args[2])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), hash)
				return nil
			})
		},
	}
	sel.register(cmd)
	return cmd
}

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	sel := &walletSelector{}
	cmd := &cobra.Command{
		Use:   "history [address]",
		Short: "Show transfers of one or all wallets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withVault(ctx, opts, func(a *app, v *vault.Vault) error {
				wallets, err := sel.all(v, args)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, w := range wallets {
					fmt.Fprintf(tw, "%s (%s)\n", w.Address, w.CurrencyName())
					for _, t := range w.History(ctx) {
						fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", t.Hash, t.From, t.To, t.Value)
					}
				}
				return tw.Flush()
			})
		},
	}
	sel.register(cmd)
	return cmd
}

func newRemoveCommand(opts *globalOptions) *cobra.Command {
	sel := &walletSelector{}
	cmd := &cobra.Command{
		Use:   "remove <address>",
		Short: "Remove a wallet from the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withVault(ctx, opts, func(a *app, v *vault.Vault) error {
				w, err := sel.one(v, args[0])
				if err != nil {
					return err
				}
				if err := v.Remove(ctx, w.Ref()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s removed\n", w.Ref())
				return nil
			})
		},
	}
	sel.register(cmd)
	return cmd
}
