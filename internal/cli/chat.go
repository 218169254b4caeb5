package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/sqlchat-go/internal/channel"
	"github.com/raphaelgruber/sqlchat-go/internal/session"
)

// shownNotices is the number of recent workflow notices kept on screen.
const shownNotices = 3

var chatConversation string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat with the SQL assistant for a project.

Live purchase order and workflow events are shown as they arrive. Type a
question and press Enter, or use a command:

  /new                     start a new conversation
  /list                    show conversations
  /open <id>               open a conversation
  /delete <id>             delete a conversation
  /chart [n]               show chart suggestion n of the last answer
  /pos [date]              show purchase orders (today or YYYY-MM-DD)
  /docs                    show documents and embedding progress
  /upload <type> <file>... upload documents (metadata, businesslogic, references)
  /project [id|name]       list projects, or switch to one
  /delete-project <name>   delete the current project (type its name to confirm)
  /help                    show this help
  /quit                    leave

Examples:
  sqlchat chat -p "Sales DB"
  sqlchat chat --conversation 12`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatConversation, "conversation", "c", "", "open an existing conversation")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	project, err := resolveProject(ctx)
	if err != nil {
		return err
	}

	ctrl := session.NewController(apiClient, newEventChannel(), sessionConfig())
	defer ctrl.Close()

	if err := ctrl.LoadProjects(ctx); err != nil {
		return err
	}
	if err := ctrl.SelectProject(ctx, project.ID); err != nil {
		return err
	}
	if chatConversation != "" {
		if err := ctrl.SelectConversation(ctx, chatConversation); err != nil {
			return fmt.Errorf("open conversation: %w", err)
		}
	}

	// Subscribers only signal; the model reads the snapshot inside Update so
	// it stays consistent with its own dispatches.
	changed := make(chan struct{}, 1)
	unsubscribe := ctrl.Store().Subscribe(func(session.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	p := tea.NewProgram(newChatModel(ctrl, changed), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("chat UI error: %w", err)
	}
	return nil
}

// panel selects the auxiliary listing shown under the messages.
type panel int

const (
	panelNone panel = iota
	panelHelp
	panelConversations
	panelPOs
	panelDocs
	panelProjects
)

// stateChangedMsg signals that the session store changed.
type stateChangedMsg struct{}

// actionDoneMsg carries the outcome of a background command.
type actionDoneMsg struct {
	done string
	err  error
}

// chatModel is the bubbletea model for the chat session.
type chatModel struct {
	ctrl    *session.Controller
	changed <-chan struct{}
	state   session.State
	input   textinput.Model
	spinner spinner.Model
	theme   Theme
	panel   panel
	status  string
	failed  bool
	width   int
	height  int
}

func newChatModel(ctrl *session.Controller, changed <-chan struct{}) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Ask about your data... (/help for commands)"
	ti.Prompt = "› "
	ti.Focus()

	return chatModel{
		ctrl:    ctrl,
		changed: changed,
		state:   ctrl.Snapshot(),
		input:   ti,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		theme:   defaultTheme,
	}
}

// Init starts listening for store changes.
func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		waitForChange(m.changed),
		m.spinner.Tick,
	)
}

// Update handles messages and returns the updated model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.SetWidth(max(msg.Width-4, 10))
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			return m.submit()
		}

	case stateChangedMsg:
		m.state = m.ctrl.Snapshot()
		if m.state.Input != m.input.Value() {
			m.input.SetValue(m.state.Input)
		}
		return m, waitForChange(m.changed)

	case actionDoneMsg:
		m.setStatus(msg.done, msg.err)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if after := m.input.Value(); after != before {
		m.ctrl.SetInput(after)
	}
	return m, cmd
}

// submit sends the input as a question, or runs it as a slash command.
func (m chatModel) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if strings.HasPrefix(text, "/") {
		m.input.Reset()
		m.ctrl.SetInput("")
		return m.command(strings.Fields(text))
	}

	if err := m.ctrl.Submit(text); err != nil {
		if errors.Is(err, session.ErrEmptyInput) {
			return m, nil
		}
		m.setStatus("", err)
		return m, nil
	}
	m.input.Reset()
	m.status = ""
	return m, nil
}

func (m chatModel) command(fields []string) (tea.Model, tea.Cmd) {
	arg, rest := "", ""
	if len(fields) > 1 {
		arg = fields[1]
		rest = strings.Join(fields[1:], " ")
	}

	switch fields[0] {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/help":
		m.panel = panelHelp
	case "/new":
		m.ctrl.NewConversation()
		m.panel = panelNone
		m.setStatus("New conversation", nil)
	case "/list":
		m.panel = panelConversations
		return m, m.run("", m.ctrl.RefreshConversations)
	case "/open":
		if arg == "" {
			m.setStatus("", errors.New("usage: /open <conversation-id>"))
			return m, nil
		}
		m.panel = panelNone
		return m, m.run("Opened conversation "+arg, func(ctx context.Context) error {
			return m.ctrl.SelectConversation(ctx, arg)
		})
	case "/delete":
		if arg == "" {
			m.setStatus("", errors.New("usage: /delete <conversation-id>"))
			return m, nil
		}
		return m, m.run("Deleted conversation "+arg, func(ctx context.Context) error {
			return m.ctrl.DeleteConversation(ctx, arg)
		})
	case "/pos":
		m.panel = panelPOs
		if arg == "" {
			return m, m.run("", m.ctrl.RefreshPOs)
		}
		return m, m.run("", func(ctx context.Context) error {
			return m.ctrl.SelectDate(ctx, arg)
		})
	case "/docs":
		m.panel = panelDocs
	case "/chart":
		n := 1
		if arg != "" {
			var err error
			if n, err = strconv.Atoi(arg); err != nil {
				m.setStatus("", errors.New("usage: /chart [number]"))
				return m, nil
			}
		}
		chart, err := m.ctrl.ChooseChart(n - 1)
		if err != nil {
			m.setStatus("", err)
			return m, nil
		}
		m.setStatus("Chart: "+chartLabel(chart), nil)
	case "/upload":
		if len(fields) < 3 {
			m.setStatus("", errors.New("usage: /upload <type> <file>..."))
			return m, nil
		}
		docType, paths := fields[1], fields[2:]
		m.panel = panelDocs
		return m, m.runReport(func(ctx context.Context) (string, error) {
			res, err := m.ctrl.UploadDocuments(ctx, docType, paths)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Uploaded %d file(s), %d failed", res.SuccessCount, res.FailedCount), nil
		})
	case "/project", "/projects":
		m.panel = panelProjects
		if rest == "" {
			return m, m.run("", m.ctrl.LoadProjects)
		}
		project, err := pickProject(m.state.Projects, rest)
		if err != nil {
			m.setStatus("", err)
			return m, nil
		}
		m.panel = panelNone
		return m, m.run("Switched to "+project.Name, func(ctx context.Context) error {
			return m.ctrl.SelectProject(ctx, project.ID)
		})
	case "/delete-project":
		project, ok := m.state.SelectedProject()
		if !ok {
			m.setStatus("", session.ErrNoProject)
			return m, nil
		}
		if rest != project.Name && rest != project.ID {
			m.setStatus("", fmt.Errorf("type /delete-project %s to confirm", project.Name))
			return m, nil
		}
		m.panel = panelProjects
		return m, m.run("Deleted project "+project.Name, func(ctx context.Context) error {
			return m.ctrl.DeleteProject(ctx, project.ID)
		})
	default:
		m.setStatus("", fmt.Errorf("unknown command %s, try /help", fields[0]))
	}
	return m, nil
}

// run executes fn off the update loop and reports its outcome.
func (m chatModel) run(done string, fn func(ctx context.Context) error) tea.Cmd {
	return m.runReport(func(ctx context.Context) (string, error) {
		return done, fn(ctx)
	})
}

// runReport is run for actions whose status text depends on the result.
func (m chatModel) runReport(fn func(ctx context.Context) (string, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ClientTimeout)
		defer cancel()
		done, err := fn(ctx)
		return actionDoneMsg{done: done, err: err}
	}
}

func (m *chatModel) setStatus(text string, err error) {
	m.failed = err != nil
	if err != nil {
		text = friendlyError(err).Error()
	}
	m.status = text
}

// View renders the chat screen.
func (m chatModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m chatModel) renderContent() string {
	header := m.renderHeader()
	footer := m.renderFooter()

	var body []string
	for _, msg := range m.state.Messages {
		body = append(body, strings.Split(m.wrap(renderMessage(m.theme, msg)), "\n")...)
	}
	switch {
	case m.state.Loading:
		body = append(body, m.spinner.View()+" "+m.theme.hintStyle().Render("Loading conversation..."))
	case m.state.Pending:
		body = append(body, m.spinner.View()+" "+m.theme.hintStyle().Render("Thinking..."))
	}

	// Keep the newest lines when the screen is too small.
	if m.height > 0 {
		room := m.height - lineCount(header) - lineCount(footer)
		if room < 1 {
			room = 1
		}
		if len(body) > room {
			body = body[len(body)-room:]
		}
	}

	return header + "\n" + strings.Join(body, "\n") + "\n" + footer
}

func (m chatModel) renderHeader() string {
	name := "(no project)"
	if p, ok := m.state.SelectedProject(); ok {
		name = p.Name
	}

	conn := m.theme.hintStyle().Render("○ " + m.state.Connection.String())
	switch m.state.Connection {
	case channel.Connected:
		conn = m.theme.completedStyle().Render("● live")
	case channel.Connecting:
		conn = m.theme.statusStyle().Render("◌ connecting")
	}

	line := lipgloss.NewStyle().Bold(true).Render(name) + "  " + conn
	if m.state.Embedding.Total > 0 && m.state.EmbeddingProcessing {
		s := m.state.Embedding
		line += "  " + m.theme.statusStyle().Render(fmt.Sprintf("embedding %d/%d", s.Completed, s.Total))
	}
	if m.state.ConversationID != "" {
		line += "  " + m.theme.hintStyle().Render("conversation "+m.state.ConversationID)
	}
	return line
}

func (m chatModel) renderFooter() string {
	var lines []string

	notices := m.state.Notices
	if len(notices) > shownNotices {
		notices = notices[len(notices)-shownNotices:]
	}
	for _, n := range notices {
		text := n.At.Local().Format(time.TimeOnly) + " " + n.Text
		if n.IsError {
			lines = append(lines, m.theme.errorStyle().Render("✗ "+text))
		} else {
			lines = append(lines, m.theme.statusStyle().Render("• "+text))
		}
	}

	if p := m.renderPanel(); p != "" {
		lines = append(lines, "", m.wrap(p))
	}

	lines = append(lines, "", m.input.View())
	if m.status != "" {
		if m.failed {
			lines = append(lines, m.theme.errorStyle().Render(m.status))
		} else {
			lines = append(lines, m.theme.hintStyle().Render(m.status))
		}
	}
	return strings.Join(lines, "\n")
}

func (m chatModel) renderPanel() string {
	var b strings.Builder
	switch m.panel {
	case panelHelp:
		b.WriteString("/new  /list  /open <id>  /delete <id>  /chart [n]  /pos [date]  /docs\n")
		b.WriteString("/upload <type> <file>...  /project [id|name]  /delete-project <name>  /quit")
	case panelConversations:
		if len(m.state.Conversations) == 0 {
			return "No conversations yet."
		}
		for _, c := range m.state.Conversations {
			fmt.Fprintf(&b, "[%s] %s\n", c.ID, c.Title)
		}
	case panelPOs:
		pos, label := m.state.POsToday, "today"
		if m.state.SelectedDate != "" && len(m.state.POsSelectedDate) > 0 {
			pos, label = m.state.POsSelectedDate, m.state.SelectedDate
		}
		if len(pos) == 0 {
			return "No purchase orders " + label + "."
		}
		fmt.Fprintf(&b, "Purchase orders %s:\n", label)
		for _, po := range pos {
			fmt.Fprintf(&b, "  %s  %s  %s  [%s]\n", po.PONumber, po.VendorName, po.TotalAmount, po.Status)
		}
	case panelProjects:
		if len(m.state.Projects) == 0 {
			return "No projects. Create one with 'sqlchat projects create <name>'."
		}
		for _, p := range m.state.Projects {
			marker := " "
			if p.ID == m.state.SelectedProjectID {
				marker = "*"
			}
			fmt.Fprintf(&b, "%s [%s] %s (%d documents)\n", marker, p.ID, p.Name, p.DocumentCounts.Total)
		}
	case panelDocs:
		p, ok := m.state.SelectedProject()
		if !ok {
			return ""
		}
		c := p.DocumentCounts
		fmt.Fprintf(&b, "Documents: %d (metadata %d, business logic %d, references %d)",
			c.Total, c.Metadata, c.BusinessLogic, c.References)
		if m.state.EmbeddingProcessing {
			s := m.state.Embedding
			fmt.Fprintf(&b, "\nEmbedding: %d/%d complete, chat is paused", s.Completed, s.Total)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m chatModel) wrap(s string) string {
	if m.width <= 0 {
		return strings.TrimRight(s, "\n")
	}
	return lipgloss.NewStyle().Width(m.width).Render(strings.TrimRight(s, "\n"))
}

// waitForChange blocks until the store signals a change.
func waitForChange(changed <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-changed
		return stateChangedMsg{}
	}
}

func lineCount(s string) int {
	return strings.Count(s, "\n") + 1
}
