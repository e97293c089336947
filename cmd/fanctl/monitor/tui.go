package monitor

import (
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mdouchement/fanctrld/target"
)

type model struct {
	table table.Model
	now   func() time.Time
}

func newTUI() *model {
	columns := []table.Column{
		{Title: "Fans", Width: 8},
		{Title: "Speeds", Width: 22},
		{Title: "Temperature", Width: 12},
		{Title: "Load", Width: 6},
		{Title: "Updated", Width: 12},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		Foreground(lipgloss.Color("#00afff")).
		BorderForeground(lipgloss.Color("#00afff")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#ffffff")).
		Bold(false)
	t.SetStyles(s)

	return &model{
		table: t,
		now:   time.Now,
	}
}

func (m *model) Init() tea.Cmd {
	return nil
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width)
		m.table.SetHeight(msg.Height)
	case []target.Channel:
		m.update(msg)
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	}
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *model) View() string {
	return m.table.View()
}

func (m *model) update(channels []target.Channel) {
	slices.SortStableFunc(channels, func(a, b target.Channel) int {
		return a.ID - b.ID
	})

	rows := make([]table.Row, 0, len(channels))
	for _, c := range channels {
		speed := fmt.Sprintf("%4d RPM (%3d/255)", c.RPM, c.Duty)
		if c.Faulted {
			speed = "FAULT"
		}

		updated := "never"
		if !c.LastUpdate.IsZero() {
			updated = m.now().Sub(c.LastUpdate).Truncate(time.Second).String() + " ago"
		}

		rows = append(rows, table.Row{
			fmt.Sprintf("fan%d", c.ID+1),
			speed,
			fmt.Sprintf("%5.1f°C", c.Temperature),
			fmt.Sprintf("%.2f", c.Load),
			updated,
		})
	}

	m.table.SetRows(rows)
}
