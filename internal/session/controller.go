package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/sqlchat-go/internal/channel"
	"github.com/raphaelgruber/sqlchat-go/internal/client"
	"github.com/raphaelgruber/sqlchat-go/internal/conversation"
	"github.com/raphaelgruber/sqlchat-go/internal/metrics"
	"github.com/raphaelgruber/sqlchat-go/internal/models"
	"github.com/raphaelgruber/sqlchat-go/internal/poller"
)

// Sentinel errors for session operations.
var (
	ErrEmptyInput          = errors.New("message is empty")
	ErrEmbeddingInProgress = errors.New("documents are still being processed")
	ErrNoProject           = errors.New("no project selected")
	ErrBusy                = errors.New("a query is already in progress")
	ErrLoading             = errors.New("conversation history is still loading")
	ErrNoChartSuggestions  = errors.New("no answer offers chart suggestions")
	ErrClosed              = errors.New("session closed")
)

const (
	defaultEmbeddingInterval = 3 * time.Second
	defaultPOInterval        = 15 * time.Second

	// dashboardConcurrency bounds concurrent document count requests.
	dashboardConcurrency = 4

	dateLayout = "2006-01-02"
)

// API is the subset of the REST client the controller uses.
type API interface {
	conversation.Source
	ListProjects(ctx context.Context) ([]models.Project, error)
	DeleteProject(ctx context.Context, id string) error
	ProjectDocuments(ctx context.Context, projectID string) (*client.ProjectDocuments, error)
	EmbeddingStatus(ctx context.Context, projectID string) (*client.EmbeddingStatusResponse, error)
	UploadDocuments(ctx context.Context, projectID, documentType string, paths []string) (*client.UploadResult, error)
	ChatQuery(ctx context.Context, req client.ChatRequest) (*client.ChatResponse, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	ProjectPOs(ctx context.Context, projectID, orderDate string) (*client.POList, error)
}

// EventSource pushes project events. *channel.Channel implements it.
type EventSource interface {
	Select(projectID string)
	Close()
	OnEvent(fn func(models.Event))
	OnStateChange(fn func(channel.State))
}

// Config configures a Controller.
type Config struct {
	EmbeddingInterval time.Duration
	POInterval        time.Duration
	Logger            *slog.Logger
	Metrics           *metrics.Collector
	Now               func() time.Time
}

// Controller turns user actions, REST responses and pushed events into
// Store dispatches. It owns the event channel, the pollers and every
// in-flight request goroutine.
type Controller struct {
	api     API
	events  EventSource
	store   *Store
	loader  *conversation.Loader
	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time

	embeddingPoller *poller.Poller
	poPoller        *poller.Poller

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu          sync.Mutex
	queryCtx    context.Context
	queryCancel context.CancelFunc
	closed      bool

	wg sync.WaitGroup
}

// NewController creates a controller. events may be nil, in which case only
// the pollers keep pushed state current.
func NewController(api API, events EventSource, cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.EmbeddingInterval <= 0 {
		cfg.EmbeddingInterval = defaultEmbeddingInterval
	}
	if cfg.POInterval <= 0 {
		cfg.POInterval = defaultPOInterval
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	c := &Controller{
		api:        api,
		events:     events,
		store:      NewStore(State{}),
		loader:     conversation.NewLoader(api, cfg.Logger),
		logger:     cfg.Logger.With("component", "session"),
		metrics:    cfg.Metrics,
		now:        cfg.Now,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
	c.queryCtx, c.queryCancel = context.WithCancel(baseCtx)
	c.embeddingPoller = poller.New("embedding", cfg.EmbeddingInterval, c.pollEmbedding, cfg.Logger)
	c.poPoller = poller.New("purchase_orders", cfg.POInterval, c.pollPOs, cfg.Logger)

	if events != nil {
		events.OnEvent(c.handleEvent)
		events.OnStateChange(func(s channel.State) {
			c.store.Dispatch(ConnectionChanged{State: s})
		})
	}
	return c
}

// Store returns the session store.
func (c *Controller) Store() *Store {
	return c.store
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() State {
	return c.store.Snapshot()
}

// =============================================================================
// PROJECTS
// =============================================================================

// LoadProjects loads the project list, then the document counts of every
// project concurrently.
func (c *Controller) LoadProjects(ctx context.Context) error {
	projects, err := c.api.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("load projects: %w", err)
	}
	c.store.Dispatch(ProjectsLoaded{Projects: projects})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dashboardConcurrency)
	for _, p := range projects {
		g.Go(func() error {
			if err := c.refreshDocuments(gctx, p.ID); err != nil {
				if errors.Is(err, client.ErrUnauthorized) {
					return err
				}
				c.logger.Warn("load document counts failed", "project_id", p.ID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// SelectProject tears down everything bound to the previous project, then
// connects the event channel, starts the pollers and loads the
// conversation list of id. An empty id only tears down.
func (c *Controller) SelectProject(ctx context.Context, id string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.teardownProject()
	c.store.Dispatch(ProjectSelected{ID: id})
	if id == "" {
		return nil
	}

	if c.events != nil {
		c.events.Select(id)
	}
	c.embeddingPoller.Start(id)
	c.poPoller.Start(id)

	c.NewConversation()
	return c.RefreshConversations(ctx)
}

// DeleteProject deletes a project. Deleting the selected project stops its
// channel and pollers first.
func (c *Controller) DeleteProject(ctx context.Context, id string) error {
	if err := c.api.DeleteProject(ctx, id); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if c.store.Snapshot().SelectedProjectID == id {
		c.teardownProject()
	}
	c.store.Dispatch(ProjectDeleted{ID: id})
	return nil
}

// UploadDocuments uploads files to the selected project and restarts the
// embedding poller so progress is tracked.
func (c *Controller) UploadDocuments(ctx context.Context, documentType string, paths []string) (*client.UploadResult, error) {
	projectID := c.store.Snapshot().SelectedProjectID
	if projectID == "" {
		return nil, ErrNoProject
	}
	res, err := c.api.UploadDocuments(ctx, projectID, documentType, paths)
	if err != nil {
		return nil, fmt.Errorf("upload documents: %w", err)
	}
	if err := c.refreshDocuments(ctx, projectID); err != nil {
		c.logger.Warn("refresh document counts failed", "project_id", projectID, "error", err)
	}
	c.embeddingPoller.Start(projectID)
	return res, nil
}

func (c *Controller) refreshDocuments(ctx context.Context, projectID string) error {
	docs, err := c.api.ProjectDocuments(ctx, projectID)
	if err != nil {
		return err
	}
	c.store.Dispatch(DocumentCountsUpdated{ProjectID: projectID, Counts: docs.Counts, Documents: docs.Documents})
	return nil
}

// teardownProject cancels in-flight queries and stops the channel and
// pollers. It blocks until their goroutines have exited.
func (c *Controller) teardownProject() {
	c.cancelQueries()
	if c.events != nil {
		c.events.Select("")
	}
	c.embeddingPoller.Stop()
	c.poPoller.Stop()
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// RefreshConversations reloads the conversation list of the selected project.
func (c *Controller) RefreshConversations(ctx context.Context) error {
	projectID := c.store.Snapshot().SelectedProjectID
	if projectID == "" {
		return ErrNoProject
	}
	convs, err := c.loader.LoadConversations(ctx, projectID)
	if err != nil {
		return err
	}
	c.store.Dispatch(ConversationsLoaded{ProjectID: projectID, Conversations: convs})
	return nil
}

// NewConversation switches to a fresh conversation showing the welcome
// message. The server assigns its ID with the first answer.
func (c *Controller) NewConversation() {
	c.cancelQueries()
	s := c.store.Dispatch(ConversationSelected{ID: ""})
	c.store.Dispatch(ConversationLoaded{
		Epoch:    s.Epoch,
		Messages: []models.Message{conversation.Welcome(c.now())},
	})
}

// SelectConversation switches to conversation id and loads its history. The
// message list is replaced, never merged.
func (c *Controller) SelectConversation(ctx context.Context, id string) error {
	if id == "" {
		c.NewConversation()
		return nil
	}
	c.cancelQueries()
	s := c.store.Dispatch(ConversationSelected{ID: id})

	msgs, err := c.loader.LoadMessages(ctx, id)
	if err != nil {
		c.store.Dispatch(ConversationLoadFailed{Epoch: s.Epoch, ID: id})
		return err
	}
	c.store.Dispatch(ConversationLoaded{Epoch: s.Epoch, ID: id, Messages: msgs})
	return nil
}

// DeleteConversation deletes a conversation; deleting the current one
// starts a new conversation.
func (c *Controller) DeleteConversation(ctx context.Context, id string) error {
	if err := c.api.DeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	current := c.store.Snapshot().ConversationID == id
	c.store.Dispatch(ConversationDeleted{ID: id})
	if current {
		c.NewConversation()
	}
	return nil
}

// SetInput replaces the draft input.
func (c *Controller) SetInput(text string) {
	c.store.Dispatch(InputChanged{Text: text})
}

// Submit appends the user's message optimistically, clears the input and
// sends the query in the background. Exactly one assistant message follows
// unless the conversation is switched before the answer arrives.
func (c *Controller) Submit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	s := c.store.Snapshot()
	switch {
	case s.SelectedProjectID == "":
		return ErrNoProject
	case s.EmbeddingProcessing:
		return ErrEmbeddingInProgress
	case s.Loading:
		return ErrLoading
	case s.Pending:
		return ErrBusy
	}

	s = c.store.Dispatch(UserSubmitted{Message: models.Message{
		ID:        uuid.NewString(),
		Sender:    models.SenderUser,
		Content:   text,
		Timestamp: c.now(),
	}})

	req := client.ChatRequest{Message: text, ProjectID: s.SelectedProjectID}
	if s.ConversationID != "" {
		id := s.ConversationID
		req.ConversationID = &id
	}

	ctx := c.queryCtx
	epoch := s.Epoch
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runQuery(ctx, epoch, req)
	}()
	return nil
}

func (c *Controller) runQuery(ctx context.Context, epoch uint64, req client.ChatRequest) {
	resp, err := c.api.ChatQuery(ctx, req)

	var next State
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("chat query failed", "project_id", req.ProjectID, "error", err)
		}
		next = c.store.Dispatch(QueryFailed{Epoch: epoch, Message: c.errorMessage(err)})
	} else {
		next = c.store.Dispatch(QueryCompleted{
			Epoch:          epoch,
			ConversationID: resp.ConversationID,
			Title:          titleFor(req.Message),
			Message:        c.answerMessage(resp),
		})
	}

	if next.Epoch != epoch {
		c.metrics.Incr(metrics.CounterStaleResponses)
		c.logger.Debug("dropped response for a previous conversation", "epoch", epoch, "current_epoch", next.Epoch)
	}
}

func (c *Controller) answerMessage(resp *client.ChatResponse) models.Message {
	msg := models.Message{
		ID:                  uuid.NewString(),
		Sender:              models.SenderAI,
		Content:             resp.Answer(),
		Timestamp:           c.now(),
		QueryResult:         resp.QueryResult,
		Chart:               resp.Chart,
		ChartSuggestions:    resp.ChartSuggestions,
		FollowupSuggestions: resp.FollowupSuggestions,
		Intent:              resp.Intent,
		Suggestions:         resp.Suggestions,
	}
	if resp.SQLQuery != nil {
		msg.SQLQuery = *resp.SQLQuery
	}
	if resp.Confidence > 0 {
		conf := resp.Confidence
		msg.Confidence = &conf
	}
	return msg
}

func (c *Controller) errorMessage(err error) models.Message {
	text := "Sorry, I encountered an error processing your request: " + err.Error()
	switch {
	case errors.Is(err, client.ErrUnauthorized):
		text = "Your session has expired. Please log in again."
	case errors.Is(err, context.Canceled):
		text = "The request was cancelled."
	}
	return models.Message{
		ID:        uuid.NewString(),
		Sender:    models.SenderAI,
		Content:   text,
		Timestamp: c.now(),
		IsError:   true,
	}
}

// Annotate attaches chart or suggestion data to an existing message.
func (c *Controller) Annotate(messageID string, a models.Annotation) {
	c.store.Dispatch(MessageAnnotated{MessageID: messageID, Annotation: a})
}

// ChooseChart attaches chart suggestion index (0-based) of the newest answer
// that offers suggestions as that answer's chart.
func (c *Controller) ChooseChart(index int) (map[string]any, error) {
	msgs := c.store.Snapshot().Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		suggestions := msgs[i].ChartSuggestions
		if len(suggestions) == 0 {
			continue
		}
		if index < 0 || index >= len(suggestions) {
			return nil, fmt.Errorf("%w: choose a chart between 1 and %d", client.ErrValidation, len(suggestions))
		}
		c.Annotate(msgs[i].ID, models.Annotation{Chart: suggestions[index]})
		return suggestions[index], nil
	}
	return nil, ErrNoChartSuggestions
}

// Settle blocks until every in-flight query has finished.
func (c *Controller) Settle() {
	c.wg.Wait()
}

// cancelQueries cancels the context of every in-flight query and prepares a
// fresh one for the next.
func (c *Controller) cancelQueries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queryCancel()
	c.queryCtx, c.queryCancel = context.WithCancel(c.baseCtx)
}

// titleFor derives a conversation title of at most 50 runes.
func titleFor(message string) string {
	const maxTitle = 50
	runes := []rune(strings.Join(strings.Fields(message), " "))
	if len(runes) <= maxTitle {
		return string(runes)
	}
	return string(runes[:maxTitle-3]) + "..."
}

// =============================================================================
// PURCHASE ORDERS
// =============================================================================

// SelectDate loads the purchase orders of the selected project for date
// (YYYY-MM-DD).
func (c *Controller) SelectDate(ctx context.Context, date string) error {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return fmt.Errorf("%w: invalid date %q", client.ErrValidation, date)
	}
	projectID := c.store.Snapshot().SelectedProjectID
	if projectID == "" {
		return ErrNoProject
	}
	list, err := c.api.ProjectPOs(ctx, projectID, date)
	if err != nil {
		return fmt.Errorf("load purchase orders: %w", err)
	}
	c.store.Dispatch(POsLoaded{ProjectID: projectID, Date: date, POs: list.POs, Summary: list.Summary})
	return nil
}

// RefreshPOs reloads today's purchase orders, and those of the selected
// date if one is set.
func (c *Controller) RefreshPOs(ctx context.Context) error {
	s := c.store.Snapshot()
	if s.SelectedProjectID == "" {
		return ErrNoProject
	}
	_, err := c.pollPOs(ctx, s.SelectedProjectID)
	return err
}

func (c *Controller) pollPOs(ctx context.Context, projectID string) (bool, error) {
	today := c.now().Format(dateLayout)
	list, err := c.api.ProjectPOs(ctx, projectID, today)
	if err != nil {
		return errors.Is(err, client.ErrUnauthorized), fmt.Errorf("poll purchase orders: %w", err)
	}
	c.store.Dispatch(POsLoaded{ProjectID: projectID, Today: true, Date: today, POs: list.POs, Summary: list.Summary})

	if date := c.store.Snapshot().SelectedDate; date != "" && date != today {
		list, err := c.api.ProjectPOs(ctx, projectID, date)
		if err != nil {
			return errors.Is(err, client.ErrUnauthorized), fmt.Errorf("poll purchase orders: %w", err)
		}
		c.store.Dispatch(POsLoaded{ProjectID: projectID, Date: date, POs: list.POs, Summary: list.Summary})
	}
	return false, nil
}

// pollEmbedding reports embedding progress and ends polling, after a final
// document count refresh, once nothing is processing.
func (c *Controller) pollEmbedding(ctx context.Context, projectID string) (bool, error) {
	st, err := c.api.EmbeddingStatus(ctx, projectID)
	if err != nil {
		return errors.Is(err, client.ErrUnauthorized), fmt.Errorf("poll embedding status: %w", err)
	}
	processing := st.Processing()
	c.store.Dispatch(EmbeddingStatusUpdated{ProjectID: projectID, Status: st.Status, Processing: processing})
	if processing {
		return false, nil
	}
	if err := c.refreshDocuments(ctx, projectID); err != nil {
		return true, fmt.Errorf("refresh document counts: %w", err)
	}
	return true, nil
}

// PollingEmbeddings reports whether the embedding poller is running.
func (c *Controller) PollingEmbeddings() bool {
	return c.embeddingPoller.Running()
}

// =============================================================================
// PUSHED EVENTS
// =============================================================================

func (c *Controller) handleEvent(ev models.Event) {
	switch e := ev.(type) {
	case models.POStatusUpdate:
		c.store.Dispatch(POStatusUpdated{PONumber: e.PONumber, Status: e.Status, At: c.eventTime(e.Timestamp)})
		c.notice(noticeAt(c.eventTime(e.Timestamp), e.Type(), "", poNoticeText(e), false))
	case models.WorkflowProgress:
		text := e.Message
		if e.Step != "" {
			text = e.Step + ": " + e.Message
		}
		c.notice(noticeAt(c.eventTime(e.Timestamp), e.Type(), e.WorkflowID, text, false))
	case models.WorkflowComplete:
		c.notice(noticeAt(c.eventTime(e.Timestamp), e.Type(), e.WorkflowID, e.Message, false))
		c.goRefreshPOs(e.ProjectID)
	case models.WorkflowError:
		c.notice(noticeAt(c.eventTime(e.Timestamp), e.Type(), e.WorkflowID, e.Error, true))
	case models.ConnectionEstablished:
		c.logger.Debug("event channel established", "project_id", e.ProjectID, "user_id", e.UserID)
	default:
		c.logger.Debug("ignoring event", "type", ev.Type())
	}
}

func (c *Controller) notice(n Notice) {
	c.store.Dispatch(WorkflowNotice{Notice: n})
}

func (c *Controller) eventTime(ts models.Timestamp) time.Time {
	if ts.IsZero() {
		return c.now()
	}
	return ts.Time
}

func poNoticeText(e models.POStatusUpdate) string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s is now %s", e.PONumber, e.Status)
}

// goRefreshPOs reloads purchase orders in the background after a workflow
// created or changed one.
func (c *Controller) goRefreshPOs(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	ctx := c.queryCtx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.pollPOs(ctx, projectID); err != nil && ctx.Err() == nil {
			c.logger.Warn("refresh purchase orders failed", "project_id", projectID, "error", err)
		}
	}()
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func (c *Controller) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Close cancels in-flight requests, closes the event channel, stops the
// pollers and waits for every goroutine the controller started.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.baseCancel()
	if c.events != nil {
		c.events.Close()
	}
	c.embeddingPoller.Stop()
	c.poPoller.Stop()
	c.wg.Wait()
}
