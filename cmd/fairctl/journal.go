package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"econfair/internal/journal"
	"econfair/internal/ledger"
	"econfair/internal/model"
)

const journalRowFormat = "%-20s %-24s %-14s %-12s %-12s %12s %12s\n"

func newJournalCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "journal <file.jsonl.zst>",
		Short: "Print a ledger journal file written by the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, journalRowFormat, "TIME", "PARTICIPANT", "KIND", "BOOTH", "ASSET", "AMOUNT", "BALANCE")
			n := 0
			err := journal.Scan(args[0], func(e ledger.Entry) error {
				if user != "" && e.UserID != user {
					return nil
				}
				n++
				fmt.Fprint(out, formatJournalEntry(e))
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d entries\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "only show one user id")
	return cmd
}

func formatJournalEntry(e ledger.Entry) string {
	amount := comma(e.Amount)
	switch {
	case e.Amount > 0:
		amount = success.Sprint("+" + amount)
	case e.Amount < 0:
		amount = danger.Sprint(amount)
	}
	return fmt.Sprintf(journalRowFormat,
		e.At.Local().Format("01-02 15:04:05"),
		truncate(model.ParticipantID(e.SessionID, e.UserID), 24),
		e.Kind, e.Booth, truncate(e.Asset, 12), amount, comma(e.BalanceAfter))
}
