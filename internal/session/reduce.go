package session

import (
	"maps"
	"slices"

	"github.com/raphaelgruber/sqlchat-go/internal/models"
)

// Reduce returns the state that results from applying ev to s. It is pure:
// s is not modified and slices are copied before being changed.
func Reduce(s State, ev Event) State {
	switch e := ev.(type) {
	case UserSubmitted:
		s.Messages = appendMessage(s.Messages, e.Message)
		s.Input = ""
		s.Pending = true

	case InputChanged:
		s.Input = e.Text

	case QueryCompleted:
		if e.Epoch != s.Epoch {
			return s
		}
		if s.ConversationID == "" && e.ConversationID != "" {
			s.ConversationID = e.ConversationID
			s.Conversations = addConversation(s.Conversations, models.Conversation{
				ID:           e.ConversationID,
				Title:        e.Title,
				ProjectID:    s.SelectedProjectID,
				MessageCount: len(s.Messages) + 1,
			})
		}
		s.Messages = appendMessage(s.Messages, e.Message)
		s.Pending = false

	case QueryFailed:
		if e.Epoch != s.Epoch {
			return s
		}
		s.Messages = appendMessage(s.Messages, e.Message)
		s.Pending = false

	case ConversationSelected:
		s.Epoch++
		s.ConversationID = e.ID
		s.Messages = nil
		s.Input = ""
		s.Pending = false
		s.Loading = e.ID != ""

	case ConversationLoaded:
		if e.Epoch != s.Epoch || e.ID != s.ConversationID {
			return s
		}
		s.Messages = slices.Clone(e.Messages)
		s.Loading = false

	case ConversationLoadFailed:
		if e.Epoch != s.Epoch || e.ID != s.ConversationID {
			return s
		}
		s.Loading = false

	case ConversationsLoaded:
		if e.ProjectID != s.SelectedProjectID {
			return s
		}
		s.Conversations = slices.Clone(e.Conversations)

	case ConversationDeleted:
		s.Conversations = slices.DeleteFunc(slices.Clone(s.Conversations), func(c models.Conversation) bool {
			return c.ID == e.ID
		})
		if s.ConversationID == e.ID {
			s.Epoch++
			s.ConversationID = ""
			s.Messages = nil
			s.Pending = false
			s.Loading = false
		}

	case MessageAnnotated:
		i := slices.IndexFunc(s.Messages, func(m models.Message) bool { return m.ID == e.MessageID })
		if i < 0 {
			return s
		}
		msgs := slices.Clone(s.Messages)
		msgs[i] = msgs[i].Annotate(e.Annotation)
		s.Messages = msgs

	case POStatusUpdated:
		if prev, ok := s.POPushes[e.PONumber]; ok && prev.At.After(e.At) {
			return s
		}
		push := POPush{Status: e.Status, At: e.At}
		pushes := maps.Clone(s.POPushes)
		if pushes == nil {
			pushes = make(map[string]POPush)
		}
		pushes[e.PONumber] = push
		s.POPushes = pushes
		s.POsToday, _ = models.UpdatePOStatus(s.POsToday, e.PONumber, push.Status, push.At)
		s.POsSelectedDate, _ = models.UpdatePOStatus(s.POsSelectedDate, e.PONumber, push.Status, push.At)

	case POsLoaded:
		if e.ProjectID != s.SelectedProjectID {
			return s
		}
		pos := applyPushes(slices.Clone(e.POs), s.POPushes)
		if e.Today {
			s.POsToday = pos
			s.POSummary = e.Summary
		} else {
			s.POsSelectedDate = pos
			s.SelectedDate = e.Date
		}

	case EmbeddingStatusUpdated:
		if e.ProjectID != s.SelectedProjectID {
			return s
		}
		s.Embedding = e.Status
		s.EmbeddingProcessing = e.Processing || e.Status.IsProcessing()

	case ProjectsLoaded:
		s.Projects = slices.Clone(e.Projects)
		if s.SelectedProjectID != "" && !containsProject(s.Projects, s.SelectedProjectID) {
			s = clearProject(s)
		}

	case ProjectSelected:
		if e.ID == s.SelectedProjectID {
			return s
		}
		s = clearProject(s)
		s.SelectedProjectID = e.ID

	case ProjectDeleted:
		s.Projects = slices.DeleteFunc(slices.Clone(s.Projects), func(p models.Project) bool {
			return p.ID == e.ID
		})
		if s.SelectedProjectID == e.ID {
			s = clearProject(s)
		}

	case DocumentCountsUpdated:
		i := slices.IndexFunc(s.Projects, func(p models.Project) bool { return p.ID == e.ProjectID })
		if i < 0 {
			return s
		}
		projects := slices.Clone(s.Projects)
		projects[i].DocumentCounts = e.Counts
		if e.Documents != nil {
			projects[i].Documents = slices.Clone(e.Documents)
		}
		s.Projects = projects

	case ConnectionChanged:
		s.Connection = e.State

	case WorkflowNotice:
		notices := append(slices.Clip(s.Notices), e.Notice)
		if len(notices) > maxNotices {
			notices = notices[len(notices)-maxNotices:]
		}
		s.Notices = notices
	}
	return s
}

// appendMessage appends without sharing the backing array of msgs.
func appendMessage(msgs []models.Message, m models.Message) []models.Message {
	return append(slices.Clip(msgs), m)
}

// applyPushes replays pushed statuses over a freshly loaded list. Records
// updated after a push keep their polled status.
func applyPushes(pos []models.PurchaseOrder, pushes map[string]POPush) []models.PurchaseOrder {
	for number, push := range pushes {
		pos, _ = models.UpdatePOStatus(pos, number, push.Status, push.At)
	}
	return pos
}

func addConversation(convs []models.Conversation, c models.Conversation) []models.Conversation {
	if slices.ContainsFunc(convs, func(x models.Conversation) bool { return x.ID == c.ID }) {
		return convs
	}
	out := make([]models.Conversation, 0, len(convs)+1)
	out = append(out, c)
	return append(out, convs...)
}

func containsProject(projects []models.Project, id string) bool {
	return slices.ContainsFunc(projects, func(p models.Project) bool { return p.ID == id })
}

// clearProject resets everything that belongs to the selected project.
func clearProject(s State) State {
	s.SelectedProjectID = ""
	s.Conversations = nil
	s.ConversationID = ""
	s.Epoch++
	s.Messages = nil
	s.Input = ""
	s.Pending = false
	s.Loading = false
	s.Embedding = models.EmbeddingStatus{}
	s.EmbeddingProcessing = false
	s.POsToday = nil
	s.POsSelectedDate = nil
	s.POSummary = models.POSummary{}
	s.SelectedDate = ""
	s.POPushes = nil
	return s
}
