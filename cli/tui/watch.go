package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/justapithecus/folio/adapter"
	"github.com/justapithecus/folio/groups"
)

// UpdateMsg carries one published session update into the watch model.
type UpdateMsg struct {
	Update *adapter.ApplyUpdate
}

// WatchModel is a Bubble Tea model showing a live session: the document
// text with a group gutter, plus a summary of every group.
type WatchModel struct {
	sessionID string
	path      string

	doc     string
	groups  []*groups.LineGroup
	stale   map[string]bool
	seq     int64
	hasDoc  bool
	deleted bool

	width    int
	height   int
	quitting bool
}

// NewWatchModel creates a watch model for the given session.
func NewWatchModel(sessionID, path string) WatchModel {
	return WatchModel{
		sessionID: sessionID,
		path:      path,
		stale:     make(map[string]bool),
	}
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case UpdateMsg:
		return m.apply(msg.Update), nil
	}

	return m, nil
}

// apply folds one published update into the model. Updates carry the
// full group layout; the document travels only when it changed.
func (m WatchModel) apply(u *adapter.ApplyUpdate) WatchModel {
	if u == nil {
		return m
	}
	m.seq = u.Seq
	if u.DocChanged {
		m.doc = u.Doc
		m.hasDoc = true
		m.deleted = u.Doc == "" && len(u.LineGroups) == 0
	}
	m.groups = u.LineGroups

	m.stale = make(map[string]bool, len(u.StaleGroupIDs))
	for _, id := range u.StaleGroupIDs {
		m.stale[id] = true
	}
	return m
}

// View implements tea.Model.
func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("folio watch  %s", m.path)))
	b.WriteString(MutedStyle.Render(fmt.Sprintf("  session=%s seq=%d", shortID(m.sessionID), m.seq)))
	b.WriteString("\n\n")

	switch {
	case !m.hasDoc:
		b.WriteString(MutedStyle.Render("waiting for document..."))
	case m.deleted:
		b.WriteString(ErrorStyle.Render("document deleted on disk"))
	default:
		b.WriteString(m.renderDocument())
	}

	if len(m.groups) > 0 {
		b.WriteString("\n\n")
		b.WriteString(TitleStyle.Render("Groups"))
		b.WriteString("\n")
		for i, g := range m.groups {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(renderGroupCard(g, m.stale[g.ID]))
		}
	}

	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("Press q or Ctrl+C to quit"))
	return b.String()
}

// renderDocument renders the document lines with a per-line group
// marker in the gutter, styled by the owning group's state.
func (m WatchModel) renderDocument() string {
	lines := strings.Split(m.doc, "\n")

	byLine := make(map[int]*groups.LineGroup)
	for _, g := range m.groups {
		for line := g.LineStart; line <= g.LineEnd; line++ {
			byLine[line] = g
		}
	}

	var b strings.Builder
	for i, text := range lines {
		lineNo := i + 1
		marker := " "
		if g, ok := byLine[lineNo]; ok {
			marker = GroupStyle(string(g.State), g.HasError, m.stale[g.ID]).Render("▌")
		}
		b.WriteString(fmt.Sprintf("%s %s %s", GutterStyle.Render(fmt.Sprintf("%d", lineNo)), marker, text))
		if i < len(lines)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// NewWatchProgram creates the live watch TUI program. Feed it updates
// through a ProgramAdapter wired into the session's publish path.
func NewWatchProgram(sessionID, path string) *tea.Program {
	return tea.NewProgram(NewWatchModel(sessionID, path), tea.WithAltScreen())
}

// ProgramAdapter forwards published session updates into a running
// watch TUI. It implements adapter.Adapter so it can fan out alongside
// real downstream adapters.
type ProgramAdapter struct {
	program *tea.Program
}

// NewProgramAdapter wraps a running program.
func NewProgramAdapter(p *tea.Program) *ProgramAdapter {
	return &ProgramAdapter{program: p}
}

// Publish sends the update into the TUI event loop. Never fails; a
// stopped program drops messages.
func (a *ProgramAdapter) Publish(_ context.Context, update *adapter.ApplyUpdate) error {
	a.program.Send(UpdateMsg{Update: update})
	return nil
}

// Close implements adapter.Adapter.
func (a *ProgramAdapter) Close() error {
	return nil
}

var _ adapter.Adapter = (*ProgramAdapter)(nil)
