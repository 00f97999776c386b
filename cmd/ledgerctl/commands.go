package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/Agihtaws/arbminidefi/services/ledgerd/api"
	"github.com/Agihtaws/arbminidefi/services/ledgerd/client"
)

type globalFlags struct {
	server  string
	token   string
	account string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate a ledgerd lending ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.server, "server", envOr("LEDGERD_URL", "http://127.0.0.1:8446"), "ledgerd base URL")
	pf.StringVar(&flags.token, "token", os.Getenv("LEDGERD_TOKEN"), "bearer token")
	pf.StringVar(&flags.account, "account", os.Getenv("LEDGERD_ACCOUNT"), "caller account when the server runs without auth")

	root.AddCommand(
		amountCommand(flags, "deposit", "Deposit ASSET AMOUNT into the pool", (*client.Client).Deposit),
		amountCommand(flags, "withdraw", "Withdraw ASSET AMOUNT, interest first", (*client.Client).Withdraw),
		amountCommand(flags, "repay", "Repay the ASSET loan with AMOUNT", (*client.Client).Repay),
		borrowCommand(flags),
		accountCommand(flags, "lender", "Show deposits with pending interest", (*client.Client).Lender),
		accountCommand(flags, "borrower", "Show loans, collateral and health factor", (*client.Client).Borrower),
		accountCommand(flags, "limits", "Show borrow and withdraw limits", (*client.Client).Limits),
		historyCommand(flags),
		canBorrowCommand(flags),
		canWithdrawCommand(flags),
		simpleCommand(flags, "pool", "Show pool totals and rates", (*client.Client).Pool),
		simpleCommand(flags, "price", "Show the validated oracle price", (*client.Client).Price),
		adminCommand(flags),
		tokenCommand(),
	)
	return root
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func (g *globalFlags) client() (*client.Client, error) {
	return client.New(g.server, client.WithToken(g.token), client.WithAccount(g.account))
}

// account returns the explicit argument or falls back to --account.
func (g *globalFlags) accountArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if g.account != "" {
		return g.account, nil
	}
	return "", fmt.Errorf("account argument or --account required")
}

func printJSON(cmd *cobra.Command, value interface{}) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func amountCommand[T any](flags *globalFlags, use, short string, call func(*client.Client, context.Context, string, string) (T, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ASSET AMOUNT",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			out, err := call(c, cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func borrowCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "borrow ASSET AMOUNT COLLATERAL_ASSET COLLATERAL_AMOUNT",
		Short: "Open a loan backed by collateral",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			out, err := c.Borrow(cmd.Context(), api.BorrowRequest{
				Asset: args[0], Amount: args[1], CollateralAsset: args[2], CollateralAmount: args[3],
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func accountCommand[T any](flags *globalFlags, use, short string, call func(*client.Client, context.Context, string) (T, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [ACCOUNT]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := flags.accountArg(args)
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			out, err := call(c, cmd.Context(), account)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func historyCommand(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [ACCOUNT]",
		Short: "List journaled events for an account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := flags.accountArg(args)
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			out, err := c.History(cmd.Context(), account, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to return")
	return cmd
}

func canBorrowCommand(flags *globalFlags) *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "can-borrow ASSET AMOUNT COLLATERAL_ASSET COLLATERAL_AMOUNT",
		Short: "Check whether a borrow would be accepted",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			out, err := c.CanBorrow(cmd.Context(), api.CanBorrowRequest{
				Account: account,
				BorrowRequest: api.BorrowRequest{
					Asset: args[0], Amount: args[1], CollateralAsset: args[2], CollateralAmount: args[3],
				},
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&account, "for", "", "account to check instead of the caller")
	return cmd
}

func canWithdrawCommand(flags *globalFlags) *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "can-withdraw ASSET AMOUNT",
		Short: "Check whether a withdrawal would be accepted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			out, err := c.CanWithdraw(cmd.Context(), api.CanWithdrawRequest{
				Account:       account,
				AmountRequest: api.AmountRequest{Asset: args[0], Amount: args[1]},
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&account, "for", "", "account to check instead of the caller")
	return cmd
}

func simpleCommand[T any](flags *globalFlags, use, short string, call func(*client.Client, context.Context) (T, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			out, err := call(c, cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func adminCommand(flags *globalFlags) *cobra.Command {
	admin := &cobra.Command{Use: "admin", Short: "Owner-only controls"}
	admin.AddCommand(
		&cobra.Command{
			Use:   "pause",
			Short: "Block deposits, withdrawals, borrows and repays",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := flags.client()
				if err != nil {
					return err
				}
				if err := c.Pause(cmd.Context()); err != nil {
					return err
				}
				return printJSON(cmd, api.StatusResponse{Status: "paused"})
			},
		},
		&cobra.Command{
			Use:   "unpause",
			Short: "Resume ledger operations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := flags.client()
				if err != nil {
					return err
				}
				if err := c.Unpause(cmd.Context()); err != nil {
					return err
				}
				return printJSON(cmd, api.StatusResponse{Status: "active"})
			},
		},
		&cobra.Command{
			Use:   "oracle REFERENCE",
			Short: "Rotate the price source (manual, chainlink:<feed>, coingecko:<id>)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := flags.client()
				if err != nil {
					return err
				}
				reference, err := c.SetOracle(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, api.StatusResponse{Status: "updated", Reference: reference})
			},
		},
		&cobra.Command{
			Use:   "price USD",
			Short: "Publish a USD price for ETH on the manual oracle",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := flags.client()
				if err != nil {
					return err
				}
				snapshot, err := c.PublishPrice(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, snapshot)
			},
		},
		&cobra.Command{
			Use:   "sweep ASSET AMOUNT TO",
			Short: "Move custody funds out while paused",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := flags.client()
				if err != nil {
					return err
				}
				if err := c.Sweep(cmd.Context(), api.SweepRequest{Asset: args[0], Amount: args[1], To: args[2]}); err != nil {
					return err
				}
				return printJSON(cmd, api.StatusResponse{Status: "swept"})
			},
		},
	)
	return admin
}

// tokenCommand mints an HS256 bearer token for development servers.
func tokenCommand() *cobra.Command {
	var (
		secret   string
		subject  string
		issuer   string
		audience string
		scopes   []string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed bearer token for a development server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(secret) == "" || strings.TrimSpace(subject) == "" {
				return fmt.Errorf("--secret and --sub are required")
			}
			now := time.Now()
			claims := jwt.MapClaims{
				"sub": strings.TrimSpace(subject),
				"iat": now.Unix(),
				"exp": now.Add(ttl).Unix(),
			}
			if issuer != "" {
				claims["iss"] = issuer
			}
			if audience != "" {
				claims["aud"] = audience
			}
			if len(scopes) > 0 {
				claims["scope"] = strings.Join(scopes, " ")
			}
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), signed)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&secret, "secret", os.Getenv("LEDGERD_HMAC_SECRET"), "HMAC secret shared with ledgerd")
	f.StringVar(&subject, "sub", "", "account address the token speaks for")
	f.StringVar(&issuer, "iss", "", "issuer claim")
	f.StringVar(&audience, "aud", "", "audience claim")
	f.StringSliceVar(&scopes, "scope", []string{"ledger:write"}, "scopes to grant")
	f.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
