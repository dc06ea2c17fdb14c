package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"econfair/internal/auth"
)

func newAdminCmd(apiBase *string) *cobra.Command {
	var key string
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Facilitator controls",
	}
	admin.PersistentFlags().StringVar(&key, "key", "", "facilitator key (default $FAIRCTL_ADMIN_KEY or prompt)")

	adminKey := func() (string, error) {
		if k := strings.TrimSpace(key); k != "" {
			return k, nil
		}
		if k := strings.TrimSpace(os.Getenv("FAIRCTL_ADMIN_KEY")); k != "" {
			return k, nil
		}
		return promptSecret("Facilitator key")
	}

	var duration time.Duration
	open := &cobra.Command{
		Use:   "open <session-id>",
		Short: "Open a session, or reset it if it exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := adminKey()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			sess, err := newClient(apiBase).OpenSession(ctx, k, args[0], int64(duration/time.Second))
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Session %s is open (%s, round %s).", sess.ID, formatRemaining(sess.RoundDurationSec), sess.RoundStatus))
			return nil
		},
	}
	open.Flags().DurationVar(&duration, "duration", 20*time.Minute, "round length")
	admin.AddCommand(open)

	actions := []struct{ use, path, short string }{
		{"start", "round/start", "Start the round"},
		{"stop", "round/stop", "End the round"},
		{"regenerate", "scenario/regenerate", "Draw new price paths"},
	}
	for _, a := range actions {
		path := a.path
		admin.AddCommand(&cobra.Command{
			Use:   a.use,
			Short: a.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				k, err := adminKey()
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				sess, err := newClient(apiBase).RoundAction(ctx, k, path)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Session %s: round %s.", sess.ID, sess.RoundStatus))
				return nil
			},
		})
	}

	admin.AddCommand(&cobra.Command{
		Use:   "participants",
		Short: "List participants of the open session",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := adminKey()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			list, err := newClient(apiBase).Participants(ctx, k)
			if err != nil {
				return err
			}
			renderParticipants(list)
			return nil
		},
	})

	admin.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Withdraw matured bank products now",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := adminKey()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			report, err := newClient(apiBase).Sweep(ctx, k)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Swept %d participants: %d products, %s credited.", report.Participants, report.Withdrawn, comma(report.Credited)))
			return nil
		},
	})

	admin.AddCommand(&cobra.Command{
		Use:   "hash-key",
		Short: "Print the bcrypt hash for ECONFAIR_FACILITATOR_KEY_HASH",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := promptSecret("New facilitator key")
			if err != nil {
				return err
			}
			again, err := promptSecret("Repeat key")
			if err != nil {
				return err
			}
			if k != again {
				return fmt.Errorf("keys do not match")
			}
			hash, err := auth.HashFacilitatorKey(k)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	})

	admin.AddCommand(&cobra.Command{
		Use:   "qr [url]",
		Short: "Show a QR code participants can scan to reach the fair",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := *apiBase
			if len(args) == 1 {
				target = args[0]
			}
			qrterminal.GenerateWithConfig(target, qrterminal.Config{
				Level:     qrterminal.M,
				Writer:    os.Stdout,
				BlackChar: qrterminal.BLACK,
				WhiteChar: qrterminal.WHITE,
				QuietZone: 1,
			})
			printInfo(target)
			return nil
		},
	})

	return admin
}
