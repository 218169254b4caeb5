package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/sqlchat-go/internal/client"
	"github.com/raphaelgruber/sqlchat-go/internal/models"
)

// Theme holds the color scheme for terminal views.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
	User    lipgloss.Color
	AI      lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
	User:    lipgloss.Color("#D7AF5F"), // amber
	AI:      lipgloss.Color("#AF87FF"), // violet
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) userStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.User).Bold(true)
}

func (t Theme) aiStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.AI).Bold(true)
}

// tickMsg triggers polling the embedding status
type tickMsg time.Time

// embeddingUpdateMsg carries the updated embedding status
type embeddingUpdateMsg struct {
	status *client.EmbeddingStatusResponse
	err    error
}

// embeddingModel is the bubbletea model for embedding progress.
type embeddingModel struct {
	client    *client.Client
	projectID string
	interval  time.Duration
	status    *client.EmbeddingStatusResponse
	progress  progress.Model
	theme     Theme
	done      bool
	quitting  bool
	err       error
}

// newEmbeddingModel creates a new progress model.
func newEmbeddingModel(c *client.Client, projectID string, interval time.Duration) embeddingModel {
	// Create progress bar with color blend
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return embeddingModel{
		client:    c,
		projectID: projectID,
		interval:  interval,
		progress:  prog,
		theme:     defaultTheme,
	}
}

// Init fetches immediately, then polls on every tick.
func (m embeddingModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetchStatus(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m embeddingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchStatus()

	case embeddingUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch embedding status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.status = msg.status
		if !m.status.Processing() {
			m.done = true
			return m, tea.Quit
		}
		return m, tickCmd(m.interval)

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m embeddingModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m embeddingModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.status == nil {
		return "Loading embedding status...\n"
	}

	s := m.status.Status
	status := m.theme.statusStyle().Render("[embedding]")
	progressBar := m.progress.ViewAs(embeddingPercent(s))
	counts := fmt.Sprintf("%d/%d documents", s.Completed, s.Total)
	if s.Failed > 0 {
		counts += m.theme.errorStyle().Render(fmt.Sprintf(" (%d failed)", s.Failed))
	}

	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s\n%s\n", status, progressBar, counts, hint)
}

// finalView renders the completion message.
func (m embeddingModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nEmbedding continues in background.\nUse 'sqlchat docs status -p %s' to check progress.\n", m.projectID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}

	if m.status == nil {
		return m.theme.completedStyle().Render("✓ Completed\n")
	}

	s := m.status.Status
	output := m.theme.completedStyle().Render("✓ Embedding finished") + "\n\n"
	output += fmt.Sprintf("  Documents:  %d\n", s.Total)
	output += fmt.Sprintf("  Completed:  %d\n", s.Completed)
	if s.Failed > 0 {
		output += m.theme.errorStyle().Render(fmt.Sprintf("  Failed:     %d\n", s.Failed))
	}
	return output
}

// fetchStatus fetches the embedding status from the server.
// Runs in a separate goroutine (command) to avoid blocking Update().
func (m embeddingModel) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		status, err := m.client.EmbeddingStatus(ctx, m.projectID)
		return embeddingUpdateMsg{status: status, err: err}
	}
}

// tickCmd returns a command that sends a tick after interval.
func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// embeddingPercent returns the completed share of s in [0, 1]. Failed
// documents count as finished.
func embeddingPercent(s models.EmbeddingStatus) float64 {
	if s.Total <= 0 {
		return 0
	}
	pct := float64(s.Completed+s.Failed) / float64(s.Total)
	return min(pct, 1)
}

// RunEmbeddingProgress runs the interactive progress UI until the project's
// embedding finishes. Returns nil on success or Ctrl+C (background).
func RunEmbeddingProgress(c *client.Client, projectID string, interval time.Duration) error {
	model := newEmbeddingModel(c, projectID, interval)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(embeddingModel); ok {
		// Ctrl+C leaves embedding running server-side; not an error
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}
