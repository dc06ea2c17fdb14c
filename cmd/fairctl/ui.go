package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	cl "econfair/internal/cli"
	"econfair/internal/game"
	"econfair/internal/model"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// promptSecret reads without echo when stdin is a terminal.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptOptional(label)
	}
	fmt.Printf("%s: ", label)
	raw, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func renderBoard(b game.PriceBoard) {
	accent.Printf("\n== %s  round %s  %s left  (step %d/%d) ==\n",
		b.SessionID, b.RoundStatus, formatRemaining(b.RemainingSec), b.Step+1, b.StepCount)
	fmt.Println()
	accent.Println("Stocks")
	fmt.Printf("%-14s %12s\n", "ASSET", "PRICE")
	for _, q := range b.Stocks {
		fmt.Printf("%-14s %12s\n", q.Asset, comma(q.Price))
	}
	fmt.Println()
	accent.Println("Real estate")
	fmt.Printf("%-14s %12s  %s\n", "ASSET", "PRICE", "OWNER")
	for _, q := range b.RealEstate {
		owner := neutral.Sprint("available")
		if q.Owner != nil {
			owner = warn.Sprint(ownerUser(*q.Owner, b.SessionID))
		}
		fmt.Printf("%-14s %12s  %s\n", q.Asset, comma(q.Price), owner)
	}
	fmt.Println()
}

func renderParticipant(p model.Participant) {
	accent.Printf("\n== %s in %s ==\n", p.UserID, p.SessionID)
	fmt.Printf("Balance:  %s\n", success.Sprint(comma(p.Balance)))
	if len(p.StockHoldings) > 0 {
		fmt.Println()
		accent.Println("Stocks")
		for asset, n := range p.StockHoldings {
			if n > 0 {
				fmt.Printf("  %-14s x%d\n", asset, n)
			}
		}
	}
	if owned := p.OwnedRealEstate(); len(owned) > 0 {
		fmt.Println()
		accent.Println("Real estate")
		for _, a := range owned {
			fmt.Printf("  %s\n", a)
		}
	}
	if len(p.BankProducts) > 0 {
		fmt.Println()
		accent.Println("Bank products")
		fmt.Printf("  %-36s %-5s %10s %5s  %-9s %s\n", "ID", "TYPE", "PRINCIPAL", "MULT", "STATE", "MATURES")
		for _, bp := range p.BankProducts {
			fmt.Printf("  %-36s %-5s %10s %5s  %-9s %s\n",
				bp.ID, bp.Type, comma(bp.Principal), bp.Multiplier.String(), bp.State(),
				bp.MatureAt.Local().Format("15:04:05"))
		}
	}
	if p.QuestSolved {
		fmt.Println()
		printInfo("Quest submitted.")
	}
	fmt.Println()
}

func renderParticipants(list cl.ParticipantList) {
	accent.Printf("\n== Participants of %s ==\n", list.SessionID)
	fmt.Printf("%-24s %14s %7s %7s %6s\n", "USER", "BALANCE", "STOCKS", "ESTATE", "QUEST")
	for _, p := range list.Participants {
		shares := 0
		for _, n := range p.StockHoldings {
			shares += n
		}
		quest := "-"
		if p.QuestSolved {
			quest = "done"
		}
		fmt.Printf("%-24s %14s %7d %7d %6s\n", truncate(p.UserID, 24), comma(p.Balance), shares, len(p.OwnedRealEstate()), quest)
	}
	fmt.Println()
}

func renderTrade(side string, r game.TradeResult) {
	verb := "Bought"
	if side == "sell" {
		verb = "Sold"
	}
	printSuccess(fmt.Sprintf("%s %s at %s. Holding %d, balance %s.", verb, r.Asset, comma(r.Price), r.Holding, comma(r.Balance)))
}

func renderProduct(verb string, r game.ProductResult) {
	msg := fmt.Sprintf("%s %s product %s (principal %s).", verb, r.Product.Type, r.Product.ID, comma(r.Product.Principal))
	if r.Credited > 0 {
		msg += fmt.Sprintf(" Credited %s.", comma(r.Credited))
	}
	printSuccess(msg + fmt.Sprintf(" Balance %s.", comma(r.Balance)))
	if r.State == model.ProductActive {
		printInfo("Matures at " + r.Product.MatureAt.Local().Format("15:04:05") + ".")
	}
}

func renderQuest(r game.QuestResult) {
	for i, ok := range r.Correct {
		mark := danger.Sprint("✗")
		if ok {
			mark = success.Sprint("✓")
		}
		fmt.Printf("  Q%d %s\n", i+1, mark)
	}
	printSuccess(fmt.Sprintf("Reward %s, balance %s.", comma(r.Reward), comma(r.Balance)))
}

// ownerUser strips the session prefix from a participant id.
func ownerUser(participantID, sessionID string) string {
	return strings.TrimPrefix(participantID, sessionID+"_")
}

func formatRemaining(sec int64) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
