package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/folio/groups"
)

// GroupsModel is a Bubble Tea model for the static group-layout view.
type GroupsModel struct {
	viewType string
	groups   []*groups.LineGroup
	width    int
	height   int
	quitting bool
}

// NewGroupsModel creates a groups model over a final layout.
func NewGroupsModel(viewType string, gs []*groups.LineGroup) GroupsModel {
	return GroupsModel{
		viewType: viewType,
		groups:   gs,
	}
}

// Init implements tea.Model.
func (m GroupsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m GroupsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
	}

	return m, nil
}

// View implements tea.Model.
func (m GroupsModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Result Groups"))
	b.WriteString("\n\n")

	if len(m.groups) == 0 {
		b.WriteString(MutedStyle.Render("(no groups)"))
	} else {
		for i, g := range m.groups {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(renderGroupCard(g, false))
		}
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return BoxStyle.Render(b.String()) + "\n" + help
}

// renderGroupCard renders one group's summary block.
func renderGroupCard(g *groups.LineGroup, stale bool) string {
	style := GroupStyle(string(g.State), g.HasError, stale)

	span := fmt.Sprintf("lines %d-%d", g.LineStart, g.LineEnd)
	if g.LineStart == g.LineEnd {
		span = fmt.Sprintf("line %d", g.LineStart)
	}

	var flags []string
	if g.HasError {
		flags = append(flags, "error")
	}
	if g.AllInvisible {
		flags = append(flags, "invisible")
	}
	if stale {
		flags = append(flags, "stale")
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Span:"),
		style.Render(span)))
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("State:"),
		style.Render(string(g.State))))
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Results:"),
		ValueStyle.Render(fmt.Sprintf("%d", len(g.ResultIDs)))))
	if len(flags) > 0 {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Flags:"),
			style.Render(strings.Join(flags, ", "))))
	}
	return b.String()
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunGroupsTUI runs the static groups TUI.
func RunGroupsTUI(viewType string, data any) error {
	gs, ok := data.([]*groups.LineGroup)
	if !ok {
		return fmt.Errorf("invalid data type for %s", viewType)
	}
	model := NewGroupsModel(viewType, gs)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderGroupsStatic renders the layout without a full TUI (for fallback).
func RenderGroupsStatic(gs []*groups.LineGroup) string {
	model := NewGroupsModel("groups_run", gs)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
