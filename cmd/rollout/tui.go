package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/rolloutiw/game"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(14)
	boardStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const recentEpisodes = 10

type model struct {
	r         *runner
	startTime time.Time

	episodes  int
	bestScore float64
	sumScore  float64
	steps     int64
	decisions int64
	recent    []string

	live StepUpdate
	done bool
}

func initialModel(r *runner) model {
	return model{r: r, startTime: time.Now()}
}

type tickMsg time.Time

// runDoneMsg is sent when every worker has returned.
type runDoneMsg struct{}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForEpisode(updates chan EpisodeUpdate) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func waitForStep(updates chan StepUpdate) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForEpisode(m.r.episodeUpdates), waitForStep(m.r.stepUpdates), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		m.steps = m.r.steps.Load()
		m.decisions = m.r.decided.Load()
		return m, tickCmd()
	case runDoneMsg:
		m.done = true
		return m, tea.Quit
	case StepUpdate:
		m.live = msg
		return m, waitForStep(m.r.stepUpdates)
	case EpisodeUpdate:
		var line string
		if msg.Err != nil {
			line = errStyle.Render(fmt.Sprintf("worker %d: %s failed: %v", msg.WorkerID, msg.Result.ID, msg.Err))
		} else {
			res := msg.Result
			m.episodes++
			m.sumScore += res.Score
			if m.episodes == 1 || res.Score > m.bestScore {
				m.bestScore = res.Score
			}
			line = fmt.Sprintf("worker %d: %s score %.0f steps %d decisions %d avg %s",
				msg.WorkerID, res.ID, res.Score, res.Steps, res.Decisions, res.AvgTime().Round(time.Microsecond))
		}
		m.recent = append([]string{line}, m.recent...)
		if len(m.recent) > recentEpisodes {
			m.recent = m.recent[:recentEpisodes]
		}
		return m, waitForEpisode(m.r.episodeUpdates)
	}
	return m, nil
}

func (m model) View() string {
	elapsed := time.Since(m.startTime)
	stepsPerSec := 0.0
	if elapsed >= time.Second {
		stepsPerSec = float64(m.steps) / elapsed.Seconds()
	}
	avg := 0.0
	if m.episodes > 0 {
		avg = m.sumScore / float64(m.episodes)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("rollout %s  [%s]", m.r.plannerName(), m.r.runID)))
	b.WriteString("\n\n")
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}
	row("episodes", fmt.Sprintf("%d / %d", m.episodes, m.r.cfg.Episodes))
	row("score", fmt.Sprintf("avg %.2f  best %.0f", avg, m.bestScore))
	row("steps", fmt.Sprintf("%d  (%.1f/s)", m.steps, stepsPerSec))
	row("decisions", fmt.Sprintf("%d", m.decisions))
	row("elapsed", elapsed.Round(time.Second).String())

	if m.live.Board != "" {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("%s  step %d  %s  score %.0f  lives %d\n",
			m.live.EpisodeID, m.live.Step.Index, moveName(int(m.live.Step.Action)), m.live.Step.Score, m.live.Step.Lives))
		b.WriteString(boardStyle.Render(strings.TrimRight(m.live.Board, "\n")))
		b.WriteString("\n")
		if m.live.Decision != "" {
			b.WriteString(helpStyle.Render(m.live.Decision))
			b.WriteString("\n")
		}
	}

	b.WriteString("\nrecent episodes:\n")
	for _, line := range m.recent {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.done {
		b.WriteString("\ndone\n")
	} else {
		b.WriteString(helpStyle.Render("\npress q to quit\n"))
	}
	return b.String()
}

func moveName(a int) string {
	if a >= 0 && a < len(game.MoveNames) {
		return game.MoveNames[a]
	}
	return "?"
}
