package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"econfair/internal/journal"
	"econfair/internal/ledger"
	"econfair/internal/model"
)

func TestFormatJournalEntry(t *testing.T) {
	color.NoColor = true
	e := ledger.Entry{
		At:           time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		SessionID:    "fair1",
		UserID:       "alice",
		Kind:         ledger.KindStockBuy,
		Asset:        "Stock A",
		Amount:       -50000,
		BalanceAfter: 10000,
	}
	line := formatJournalEntry(e)
	for _, want := range []string{"fair1_alice", "stock_buy", "Stock A", "-50,000", "10,000"} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
	if !strings.HasSuffix(line, "\n") {
		t.Fatalf("line not terminated: %q", line)
	}
}

func TestJournalCommandFiltersByUser(t *testing.T) {
	color.NoColor = true
	dir := t.TempDir()
	w := journal.NewWriter(dir, "ledger")
	entries := []ledger.Entry{
		{At: time.Now(), SessionID: "fair1", UserID: "alice", Kind: ledger.KindBoothCredit, Booth: model.BoothLabor, Amount: 3000, BalanceAfter: 13000},
		{At: time.Now(), SessionID: "fair1", UserID: "bob", Kind: ledger.KindBoothCredit, Booth: model.BoothLuck, Amount: 700, BalanceAfter: 10700},
	}
	for _, e := range entries {
		if err := w.Record(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "ledger-*.jsonl.zst"))
	if err != nil || len(files) != 1 {
		t.Fatalf("journal files %v %v", files, err)
	}

	var out bytes.Buffer
	cmd := newJournalCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{files[0], "--user", "alice"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{"PARTICIPANT", "fair1_alice", "+3,000", "13,000", "1 entries"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "bob") {
		t.Fatalf("filter leaked bob:\n%s", got)
	}
}
