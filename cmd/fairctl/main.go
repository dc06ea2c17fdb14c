package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cl "econfair/internal/cli"
	"econfair/internal/config"
	"econfair/internal/game"
	"econfair/internal/model"
	"econfair/internal/syncq"
)

func main() {
	_ = config.LoadDotEnv("")
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "fairctl",
		Short:        "Economy fair client for participants and facilitators",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newLoginCmd(&apiBase),
		newLogoutCmd(&apiBase),
		newSessionCmd(&apiBase),
		newMeCmd(&apiBase),
		newBoothCmd(&apiBase),
		newMarketCmd(&apiBase, "stock", "stocks", "Trade stocks (max 5 shares per asset)"),
		newMarketCmd(&apiBase, "estate", "realestate", "Trade real estate (one owner per asset)"),
		newBankCmd(&apiBase),
		newQuestCmd(&apiBase),
		newWatchCmd(&apiBase),
		newSyncCmd(&apiBase),
		newJournalCmd(),
		newAdminCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptSecret("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, email, password)
			if err != nil {
				return err
			}
			stored := cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				UserID:       session.User.ID,
			}
			if session.ExpiresIn > 0 {
				stored.ExpiresAt = time.Now().Add(time.Duration(session.ExpiresIn) * time.Second)
			}
			if err := cl.SaveSession(*apiBase, stored); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Logged in as %s.", session.User.ID))
			return nil
		},
	}
}

func newLogoutCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(*apiBase); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newSessionCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show the open session and current prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession(*apiBase)
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			view, err := newClient(apiBase).Session(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderBoard(view.Board)
			return nil
		},
	}
}

func newMeCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show your balance and holdings",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession(*apiBase)
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			p, err := newClient(apiBase).Me(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderParticipant(p)
			return nil
		},
	}
}

func newBoothCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "booth <labor|luck|group> <amount>",
		Short: "Record earnings from a simple booth",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			booth, err := model.ParseBooth(args[0])
			if err != nil {
				return err
			}
			amount, err := parsePositive(args[1], "amount")
			if err != nil {
				return err
			}
			var out game.BoothResult
			queued, err := sendIntent(cmd, apiBase, cl.BoothIntent(booth, amount, uuid.NewString()), &out)
			if err != nil || queued {
				return err
			}
			printSuccess(fmt.Sprintf("%s +%s, balance %s", out.Booth, comma(out.Amount), comma(out.Balance)))
			return nil
		},
	}
}

func newMarketCmd(apiBase *string, use, market, short string) *cobra.Command {
	root := &cobra.Command{Use: use, Short: short}
	for _, side := range []string{"buy", "sell"} {
		root.AddCommand(&cobra.Command{
			Use:   side + " <asset>",
			Short: strings.ToUpper(side[:1]) + side[1:] + " one unit at the current price",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				asset := strings.Join(args, " ")
				var out game.TradeResult
				queued, err := sendIntent(cmd, apiBase, cl.TradeIntent(market, asset, side, uuid.NewString()), &out)
				if err != nil || queued {
					return err
				}
				renderTrade(side, out)
				return nil
			},
		})
	}
	return root
}

func newBankCmd(apiBase *string) *cobra.Command {
	bank := &cobra.Command{Use: "bank", Short: "Time-locked bank deposits"}
	bank.AddCommand(&cobra.Command{
		Use:   "deposit <short|mid|long> <principal>",
		Short: "Lock principal into a product",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := model.ParseProductType(args[0])
			if err != nil {
				return err
			}
			principal, err := parsePositive(args[1], "principal")
			if err != nil {
				return err
			}
			var out game.ProductResult
			queued, err := sendIntent(cmd, apiBase, cl.ProductIntent(pt, principal, uuid.NewString()), &out)
			if err != nil || queued {
				return err
			}
			renderProduct("Deposited", out)
			return nil
		},
	})
	settles := []struct{ action, short, done string }{
		{"cancel", "Cancel an active product and refund the principal", "Canceled"},
		{"withdraw", "Withdraw a matured product with interest", "Withdrew"},
	}
	for _, st := range settles {
		action, done := st.action, st.done
		bank.AddCommand(&cobra.Command{
			Use:   action + " <product-id>",
			Short: st.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var out game.ProductResult
				queued, err := sendIntent(cmd, apiBase, cl.SettleIntent(args[0], action, uuid.NewString()), &out)
				if err != nil || queued {
					return err
				}
				renderProduct(done, out)
				return nil
			},
		})
	}
	return bank
}

func newQuestCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "quest [answers...]",
		Short: "Submit quiz answers (once per session)",
		RunE: func(cmd *cobra.Command, args []string) error {
			answers := args
			if len(answers) == 0 {
				for i := 1; i <= 6; i++ {
					a, err := promptOptional(fmt.Sprintf("Answer %d", i))
					if err != nil {
						return err
					}
					answers = append(answers, a)
				}
			}
			var out game.QuestResult
			queued, err := sendIntent(cmd, apiBase, cl.QuestIntent(answers, uuid.NewString()), &out)
			if err != nil || queued {
				return err
			}
			renderQuest(out)
			return nil
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay intents queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession(*apiBase)
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			queue, err := openQueue()
			if err != nil {
				return err
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			send := func(ctx context.Context, c syncq.Command) error {
				err := client.Send(ctx, sess.AccessToken, c, nil)
				if cl.IsDuplicate(err) {
					return nil
				}
				return err
			}
			retry := func(err error) bool { return !cl.IsAPIError(err) }
			results, err := queue.Replay(ctx, send, retry)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			applied := 0
			for _, r := range results {
				switch {
				case r.Err == nil:
					applied++
				case retry(r.Err):
					printWarn(fmt.Sprintf("Still offline at %s %s: %v", r.Command.Method, r.Command.Path, r.Err))
				default:
					printError(fmt.Sprintf("Rejected %s %s: %v", r.Command.Method, r.Command.Path, r.Err))
				}
			}
			left, _ := queue.Load()
			printSuccess(fmt.Sprintf("Sync complete: applied=%d remaining=%d", applied, len(left)))
			return nil
		},
	}
}

// sendIntent posts a participant intent. A transport failure queues it for
// `fairctl sync` and reports queued=true instead of an error.
func sendIntent(cmd *cobra.Command, apiBase *string, intent syncq.Command, out any) (queued bool, err error) {
	sess, err := cl.LoadSession(*apiBase)
	if err != nil {
		return false, fmt.Errorf("login required: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	err = newClient(apiBase).Send(ctx, sess.AccessToken, intent, out)
	if err == nil || cl.IsAPIError(err) {
		return false, err
	}
	queue, qerr := openQueue()
	if qerr != nil {
		return false, fmt.Errorf("%w (queue unavailable: %v)", err, qerr)
	}
	if qerr := queue.Push(intent); qerr != nil {
		return false, fmt.Errorf("%w (queue failed: %v)", err, qerr)
	}
	printWarn("Server unreachable; saved for `fairctl sync`.")
	return true, nil
}

func openQueue() (*syncq.Queue, error) {
	dir, err := cl.BaseDir()
	if err != nil {
		return nil, err
	}
	return syncq.Open(dir)
}

func parsePositive(v, label string) (int64, error) {
	n, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(v), ",", ""), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q", label, v)
	}
	return n, nil
}
