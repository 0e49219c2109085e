// Package tui provides an interactive BubbleTea inspector that steps a
// matcher through a pre-tokenized sample one token at a time, showing the
// live mask size, forced bytes, and stop reason at each step — adapted from
// the teacher's internal/tui (a live semantic-search results view) onto a
// step-by-step constrained-decoding inspector.
//
// Layout:
//
//	┌─────────────────────────────────────┐
//	│  llguidance matcher inspector       │  ← header
//	│  consumed: "foo"                    │  ← decoded prefix
//	│  next: "bar"                        │  ← pending token, highlighted
//	│  mask: 128/50000 allowed  eos: yes  │  ← live mask summary
//	│  forced: "ba"                       │  ← forced-byte buffer
//	│  state: Normal                      │  ← matcher state / stop reason
//	│  [3/7 tokens]  →/← step  q quit      │  ← status bar
//	└─────────────────────────────────────┘
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/screenager/llguidance/internal/matcher"
	"github.com/screenager/llguidance/internal/toktrie"
)

var (
	colorAccent = lipgloss.Color("#7C6AF7")
	colorDim    = lipgloss.Color("#555555")
	colorMuted  = lipgloss.Color("#888888")
	colorText   = lipgloss.Color("#DDDDDD")
	colorGreen  = lipgloss.Color("#5AF078")
	colorErr    = lipgloss.Color("#FF6B6B")

	sTitle = lipgloss.NewStyle().Bold(true).Foreground(colorText)
	sDim   = lipgloss.NewStyle().Foreground(colorDim)
	sMuted = lipgloss.NewStyle().Foreground(colorMuted)
	sNext  = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	sGreen = lipgloss.NewStyle().Foreground(colorGreen)
	sErr   = lipgloss.NewStyle().Foreground(colorErr)
	sHint  = lipgloss.NewStyle().Foreground(colorDim)
)

// Model is the BubbleTea application model: a matcher, the full sample
// token sequence it's being driven through, and a cursor into it.
type Model struct {
	m      *matcher.Matcher
	env    *toktrie.TokenEnv
	tokens []toktrie.TokenID
	pos    int

	lastMask *toktrie.AllowedSet
	lastErr  error
	width    int
}

// New builds a Model that will step m through tokens, one at a time.
func New(m *matcher.Matcher, env *toktrie.TokenEnv, tokens []toktrie.TokenID) Model {
	mdl := Model{m: m, env: env, tokens: tokens}
	mdl.refreshMask()
	return mdl
}

// Init is the BubbleTea init hook; nothing needs to happen asynchronously.
func (m Model) Init() tea.Cmd { return nil }

// Update processes key presses: right/n/enter advances one token, left/p
// rolls one back, q/ctrl+c quits.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "right", "n", "enter":
			if m.pos < len(m.tokens) {
				tok := m.tokens[m.pos]
				if err := m.m.ConsumeToken(tok); err == nil {
					m.pos++
				}
				m.refreshMask()
			}
			return m, nil

		case "left", "p":
			if m.pos > 0 {
				if err := m.m.Rollback(1); err == nil {
					m.pos--
				}
				m.refreshMask()
			}
			return m, nil
		}
	}
	return m, nil
}

func (m *Model) refreshMask() {
	m.lastMask, m.lastErr = m.m.ComputeMask()
}

// View renders the current step.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(sTitle.Render("llguidance matcher inspector") + "\n\n")

	consumed := m.env.Decode(m.tokens[:m.pos])
	b.WriteString(sMuted.Render("consumed: ") + fmt.Sprintf("%q\n", consumed))

	if m.pos < len(m.tokens) {
		next := m.env.Decode([]toktrie.TokenID{m.tokens[m.pos]})
		b.WriteString(sMuted.Render("next:     ") + sNext.Render(fmt.Sprintf("%q", next)) + "\n")
	} else {
		b.WriteString(sMuted.Render("next:     ") + sDim.Render("(end of sample)") + "\n")
	}

	b.WriteString(m.maskLine() + "\n")

	forced := m.m.ComputeFFBytes()
	b.WriteString(sMuted.Render("forced:   ") + fmt.Sprintf("%q\n", forced))

	b.WriteString(m.stateLine() + "\n\n")

	b.WriteString(sHint.Render(fmt.Sprintf("[%d/%d tokens]  →/← step  q quit", m.pos, len(m.tokens))))
	return b.String()
}

func (m Model) maskLine() string {
	if m.lastErr != nil {
		return sErr.Render(fmt.Sprintf("mask: error computing mask: %v", m.lastErr))
	}
	if m.lastMask == nil {
		return sMuted.Render("mask: (none yet)")
	}
	eos := "no"
	if m.lastMask.Test(m.env.EOSToken()) {
		eos = "yes"
	}
	return sMuted.Render(fmt.Sprintf("mask:     %d/%d allowed  eos: %s", m.lastMask.Count(), m.lastMask.Len(), eos))
}

func (m Model) stateLine() string {
	switch {
	case m.m.IsError():
		return sErr.Render(fmt.Sprintf("state:    Error (%s)", m.m.GetError()))
	case m.m.IsStopped():
		return sGreen.Render(fmt.Sprintf("state:    Stopped (%s)", m.m.StopReason()))
	case m.m.IsAccepting():
		return sGreen.Render("state:    Normal, accepting")
	default:
		return sMuted.Render("state:    Normal")
	}
}

// Run starts the BubbleTea program for m.
func Run(m Model) error {
	_, err := tea.NewProgram(m).Run()
	return err
}
