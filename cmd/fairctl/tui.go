package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	cl "econfair/internal/cli"
	"econfair/internal/game"
	"econfair/internal/model"
)

const refreshEveryTicks = 5

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	runningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	idleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type (
	tickMsg    time.Time
	boardMsg   game.PriceBoard
	sessionMsg model.Session
	meMsg      model.Participant
	errMsg     struct{ err error }
)

type watchModel struct {
	refresh func() tea.Msg
	now     func() time.Time

	board   game.PriceBoard
	session model.Session
	me      *model.Participant
	ticks   int
	err     error

	stocks  table.Model
	estates table.Model
}

func newWatchModel(refresh func() tea.Msg, now func() time.Time) watchModel {
	cols := []table.Column{{Title: "Asset", Width: 12}, {Title: "Price", Width: 10}}
	estateCols := append(append([]table.Column{}, cols...), table.Column{Title: "Owner", Width: 14})
	return watchModel{
		refresh: refresh,
		now:     now,
		stocks:  table.New(table.WithColumns(cols), table.WithHeight(7)),
		estates: table.New(table.WithColumns(estateCols), table.WithHeight(7)),
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(tick(), m.refresh)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refresh
		}
	case tickMsg:
		m.ticks++
		if m.ticks%refreshEveryTicks == 0 {
			return m, tea.Batch(tick(), m.refresh)
		}
		return m, tick()
	case boardMsg:
		m.board = game.PriceBoard(msg)
		m.err = nil
		m.stocks.SetRows(quoteRows(m.board.Stocks, ""))
		m.estates.SetRows(quoteRows(m.board.RealEstate, m.board.SessionID))
	case sessionMsg:
		m.session = model.Session(msg)
		return m, m.refresh
	case meMsg:
		p := model.Participant(msg)
		m.me = &p
	case errMsg:
		m.err = msg.err
	}
	return m, nil
}

// remaining counts down locally between board refreshes.
func (m watchModel) remaining() int64 {
	if m.session.RoundStatus == model.RoundRunning && m.session.RoundEndsAt != nil {
		left := m.session.RoundEndsAt.Sub(m.now()).Seconds()
		return int64(math.Max(0, math.Ceil(left)))
	}
	return m.board.RemainingSec
}

func (m watchModel) View() string {
	var b strings.Builder
	status := m.board.RoundStatus
	if m.session.RoundStatus != "" {
		status = m.session.RoundStatus
	}
	statusStyle := idleStyle
	if status == model.RoundRunning {
		statusStyle = runningStyle
	}
	b.WriteString(titleStyle.Render("econfair · "+m.board.SessionID) + "  ")
	b.WriteString(statusStyle.Render(string(status)) + "  ")
	b.WriteString(fmt.Sprintf("%s left  step %d/%d\n", formatRemaining(m.remaining()), m.board.Step+1, max(m.board.StepCount, 1)))

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle.Render("Stocks\n"+m.stocks.View()),
		panelStyle.Render("Real estate\n"+m.estates.View()),
	))
	b.WriteString("\n")
	if m.me != nil {
		b.WriteString(fmt.Sprintf("Balance %s   shares %d   estates %d\n", comma(m.me.Balance), shareCount(*m.me), len(m.me.OwnedRealEstate())))
	}
	if m.err != nil {
		b.WriteString(errStyle.Render(m.err.Error()) + "\n")
	}
	b.WriteString(helpStyle.Render("r refresh · q quit"))
	return b.String()
}

func quoteRows(quotes []game.Quote, sessionID string) []table.Row {
	rows := make([]table.Row, 0, len(quotes))
	for _, q := range quotes {
		row := table.Row{q.Asset, comma(q.Price)}
		if sessionID != "" {
			owner := "-"
			if q.Owner != nil {
				owner = ownerUser(*q.Owner, sessionID)
			}
			row = append(row, owner)
		}
		rows = append(rows, row)
	}
	return rows
}

func shareCount(p model.Participant) int {
	n := 0
	for _, v := range p.StockHoldings {
		n += v
	}
	return n
}

func newWatchCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live view of prices, countdown and your balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession(*apiBase)
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			refresh := func() tea.Msg {
				rctx, rcancel := context.WithTimeout(ctx, 10*time.Second)
				defer rcancel()
				view, err := client.Session(rctx, sess.AccessToken)
				if err != nil {
					return errMsg{err}
				}
				return boardMsg(view.Board)
			}
			p := tea.NewProgram(newWatchModel(refresh, time.Now), tea.WithAltScreen(), tea.WithContext(ctx))

			go func() {
				err := client.Watch(ctx, "/v1/watch/session", sess.AccessToken, func(f cl.Frame) error {
					var s model.Session
					if err := json.Unmarshal(f.Data, &s); err != nil {
						return err
					}
					p.Send(sessionMsg(s))
					return nil
				})
				if err != nil {
					p.Send(errMsg{fmt.Errorf("session stream: %w", err)})
				}
			}()
			go func() {
				err := client.Watch(ctx, "/v1/watch/me", sess.AccessToken, func(f cl.Frame) error {
					var me model.Participant
					if err := json.Unmarshal(f.Data, &me); err != nil {
						return err
					}
					p.Send(meMsg(me))
					return nil
				})
				if err != nil {
					p.Send(errMsg{fmt.Errorf("balance stream: %w", err)})
				}
			}()

			_, err = p.Run()
			if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}
