package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/sqlchat-go/internal/channel"
	"github.com/raphaelgruber/sqlchat-go/internal/models"
)

func userMsg(id, text string) models.Message {
	return models.Message{ID: id, Sender: models.SenderUser, Content: text}
}

func aiMsg(id, text string) models.Message {
	return models.Message{ID: id, Sender: models.SenderAI, Content: text}
}

func TestUserSubmittedClearsInput(t *testing.T) {
	s := State{Input: "how many orders?", Messages: []models.Message{aiMsg("w", "hi")}}

	next := Reduce(s, UserSubmitted{Message: userMsg("u1", "how many orders?")})

	assert.Equal(t, "", next.Input)
	assert.True(t, next.Pending)
	require.Len(t, next.Messages, 2)
	assert.Equal(t, "u1", next.Messages[1].ID)
}

func TestReduceDoesNotModifyInput(t *testing.T) {
	msgs := make([]models.Message, 1, 10)
	msgs[0] = aiMsg("a", "first")
	s := State{Messages: msgs, POsToday: []models.PurchaseOrder{{PONumber: "PO-1", Status: models.POStatusGenerated}}}

	next := Reduce(s, UserSubmitted{Message: userMsg("u", "x")})
	other := Reduce(s, UserSubmitted{Message: userMsg("v", "y")})
	assert.Equal(t, "u", next.Messages[1].ID)
	assert.Equal(t, "v", other.Messages[1].ID)
	assert.Len(t, s.Messages, 1)

	Reduce(s, POStatusUpdated{PONumber: "PO-1", Status: models.POStatusApproved})
	assert.Equal(t, models.POStatusGenerated, s.POsToday[0].Status)

	Reduce(s, MessageAnnotated{MessageID: "a", Annotation: models.Annotation{FollowupSuggestions: []string{"more"}}})
	assert.Nil(t, s.Messages[0].FollowupSuggestions)
}

func TestQueryCompletedAdoptsConversationID(t *testing.T) {
	s := State{SelectedProjectID: "p1", Epoch: 3}
	s = Reduce(s, UserSubmitted{Message: userMsg("u", "top vendors")})

	s = Reduce(s, QueryCompleted{Epoch: 3, ConversationID: "conv-7", Title: "top vendors", Message: aiMsg("a", "Acme")})

	assert.Equal(t, "conv-7", s.ConversationID)
	assert.False(t, s.Pending)
	require.Len(t, s.Conversations, 1)
	assert.Equal(t, "top vendors", s.Conversations[0].Title)
	assert.Equal(t, "p1", s.Conversations[0].ProjectID)
	require.Len(t, s.Messages, 2)

	// A later answer in the same conversation keeps the ID and list.
	s = Reduce(s, QueryCompleted{Epoch: 3, ConversationID: "conv-7", Message: aiMsg("b", "again")})
	assert.Len(t, s.Conversations, 1)
	assert.Len(t, s.Messages, 3)
}

func TestStaleCompletionDropped(t *testing.T) {
	s := State{ConversationID: "A", Epoch: 1}
	s = Reduce(s, UserSubmitted{Message: userMsg("u", "q")})
	s = Reduce(s, ConversationSelected{ID: "B"})
	s = Reduce(s, ConversationLoaded{Epoch: s.Epoch, ID: "B", Messages: []models.Message{aiMsg("b1", "from B")}})

	next := Reduce(s, QueryCompleted{Epoch: 1, ConversationID: "A", Message: aiMsg("a1", "answer for A")})
	assert.Equal(t, s, next)

	next = Reduce(s, QueryFailed{Epoch: 1, Message: aiMsg("e", "error")})
	assert.Equal(t, s, next)
}

func TestConversationSwitchReplacesMessages(t *testing.T) {
	s := State{ConversationID: "A", Messages: []models.Message{aiMsg("1", "a")}, Input: "draft", Pending: true}

	s = Reduce(s, ConversationSelected{ID: "B"})
	assert.Equal(t, uint64(1), s.Epoch)
	assert.Empty(t, s.Messages)
	assert.Empty(t, s.Input)
	assert.False(t, s.Pending)

	// A load for an older selection is ignored.
	stale := Reduce(s, ConversationLoaded{Epoch: 0, ID: "A", Messages: []models.Message{aiMsg("x", "x")}})
	assert.Empty(t, stale.Messages)

	s = Reduce(s, ConversationLoaded{Epoch: 1, ID: "B", Messages: []models.Message{aiMsg("2", "b")}})
	require.Len(t, s.Messages, 1)
	assert.Equal(t, "2", s.Messages[0].ID)
}

func TestPOStatusUpdate(t *testing.T) {
	s := State{
		POsToday:        []models.PurchaseOrder{{PONumber: "PO-1", Status: models.POStatusPendingApproval}, {PONumber: "PO-2"}},
		POsSelectedDate: []models.PurchaseOrder{{PONumber: "PO-1", Status: models.POStatusPendingApproval}},
	}

	next := Reduce(s, POStatusUpdated{PONumber: "PO-1", Status: models.POStatusApproved})
	assert.Equal(t, models.POStatusApproved, next.POsToday[0].Status)
	assert.Equal(t, models.POStatusApproved, next.POsSelectedDate[0].Status)
	assert.Equal(t, "PO-2", next.POsToday[1].PONumber)

	again := Reduce(next, POStatusUpdated{PONumber: "PO-1", Status: models.POStatusApproved})
	assert.Equal(t, next, again, "applying the same update twice is idempotent")

	unknown := Reduce(s, POStatusUpdated{PONumber: "PO-404", Status: models.POStatusRejected})
	assert.Equal(t, s.POsToday, unknown.POsToday, "unknown PO number creates no entry")
	assert.Equal(t, s.POsSelectedDate, unknown.POsSelectedDate)
	assert.Nil(t, s.POPushes)
}

func TestPOPushAndPollCommute(t *testing.T) {
	pushedAt := time.Date(2025, 10, 8, 10, 0, 0, 0, time.UTC)
	push := POStatusUpdated{PONumber: "PO-1", Status: models.POStatusApproved, At: pushedAt}

	tests := []struct {
		name   string
		polled models.PurchaseOrder
		want   string
	}{
		{
			name:   "poll fetched before the push",
			polled: models.PurchaseOrder{PONumber: "PO-1", Status: models.POStatusPendingApproval, UpdatedAt: "2025-10-08T09:59:00Z"},
			want:   models.POStatusApproved,
		},
		{
			name:   "poll without updated_at",
			polled: models.PurchaseOrder{PONumber: "PO-1", Status: models.POStatusPendingApproval},
			want:   models.POStatusApproved,
		},
		{
			name:   "poll fetched after a later change",
			polled: models.PurchaseOrder{PONumber: "PO-1", Status: models.POStatusSentToVendor, UpdatedAt: "2025-10-08T10:05:00Z"},
			want:   models.POStatusSentToVendor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := State{SelectedProjectID: "p1"}
			poll := POsLoaded{ProjectID: "p1", Today: true, POs: []models.PurchaseOrder{tt.polled}}

			pushFirst := Reduce(Reduce(base, push), poll)
			pollFirst := Reduce(Reduce(base, poll), push)

			require.Len(t, pushFirst.POsToday, 1)
			require.Len(t, pollFirst.POsToday, 1)
			assert.Equal(t, tt.want, pushFirst.POsToday[0].Status)
			assert.Equal(t, pushFirst.POsToday, pollFirst.POsToday, "merge must not depend on arrival order")

			// Redelivery of either producer changes nothing.
			assert.Equal(t, pushFirst.POsToday, Reduce(Reduce(pushFirst, push), poll).POsToday)
		})
	}
}

func TestOlderPushIgnored(t *testing.T) {
	s := State{POsToday: []models.PurchaseOrder{{PONumber: "PO-1", Status: models.POStatusGenerated}}}
	early := time.Date(2025, 10, 8, 9, 0, 0, 0, time.UTC)

	s = Reduce(s, POStatusUpdated{PONumber: "PO-1", Status: models.POStatusApproved, At: early.Add(time.Minute)})
	next := Reduce(s, POStatusUpdated{PONumber: "PO-1", Status: models.POStatusPendingApproval, At: early})

	assert.Equal(t, s, next)
	assert.Equal(t, models.POStatusApproved, next.POsToday[0].Status)
}

func TestConversationLoading(t *testing.T) {
	s := Reduce(State{}, ConversationSelected{ID: "A"})
	assert.True(t, s.Loading)

	failed := Reduce(s, ConversationLoadFailed{Epoch: s.Epoch, ID: "A"})
	assert.False(t, failed.Loading)
	assert.Equal(t, "A", failed.ConversationID)

	stale := Reduce(s, ConversationLoadFailed{Epoch: s.Epoch - 1, ID: "A"})
	assert.True(t, stale.Loading)

	loaded := Reduce(s, ConversationLoaded{Epoch: s.Epoch, ID: "A", Messages: []models.Message{aiMsg("1", "hi")}})
	assert.False(t, loaded.Loading)

	fresh := Reduce(s, ConversationSelected{ID: ""})
	assert.False(t, fresh.Loading, "a new conversation has no history to wait for")
}

func TestEmbeddingStatus(t *testing.T) {
	s := State{SelectedProjectID: "p1"}

	done := Reduce(s, EmbeddingStatusUpdated{ProjectID: "p1", Status: models.EmbeddingStatus{Total: 10, Completed: 10}})
	assert.False(t, done.EmbeddingProcessing)

	busy := Reduce(s, EmbeddingStatusUpdated{ProjectID: "p1", Status: models.EmbeddingStatus{Total: 10, Pending: 2, Completed: 8}})
	assert.True(t, busy.EmbeddingProcessing)

	flagged := Reduce(s, EmbeddingStatusUpdated{ProjectID: "p1", Status: models.EmbeddingStatus{Total: 1}, Processing: true})
	assert.True(t, flagged.EmbeddingProcessing)

	other := Reduce(s, EmbeddingStatusUpdated{ProjectID: "p2", Status: models.EmbeddingStatus{Processing: 1}})
	assert.False(t, other.EmbeddingProcessing)
}

func TestDeleteSelectedProjectClearsSelection(t *testing.T) {
	s := State{
		Projects:            []models.Project{{ID: "p1"}, {ID: "p2"}},
		SelectedProjectID:   "p1",
		ConversationID:      "c1",
		Messages:            []models.Message{aiMsg("1", "x")},
		POsToday:            []models.PurchaseOrder{{PONumber: "PO-1"}},
		EmbeddingProcessing: true,
	}

	next := Reduce(s, ProjectDeleted{ID: "p1"})
	assert.Equal(t, "", next.SelectedProjectID)
	assert.Equal(t, "", next.ConversationID)
	assert.Empty(t, next.Messages)
	assert.Empty(t, next.POsToday)
	assert.False(t, next.EmbeddingProcessing)
	require.Len(t, next.Projects, 1)
	assert.Equal(t, "p2", next.Projects[0].ID)
	assert.Len(t, s.Projects, 2)

	_, ok := next.SelectedProject()
	assert.False(t, ok)

	unrelated := Reduce(s, ProjectDeleted{ID: "p2"})
	assert.Equal(t, "p1", unrelated.SelectedProjectID)
	assert.Equal(t, "c1", unrelated.ConversationID)
}

func TestProjectsLoadedDropsMissingSelection(t *testing.T) {
	s := State{SelectedProjectID: "gone", ConversationID: "c"}
	next := Reduce(s, ProjectsLoaded{Projects: []models.Project{{ID: "p1"}}})
	assert.Equal(t, "", next.SelectedProjectID)
	assert.Equal(t, "", next.ConversationID)
}

func TestScopedLoadsIgnoredForOtherProjects(t *testing.T) {
	s := State{SelectedProjectID: "p1"}

	s = Reduce(s, POsLoaded{ProjectID: "p2", Today: true, POs: []models.PurchaseOrder{{PONumber: "X"}}})
	assert.Empty(t, s.POsToday)

	s = Reduce(s, ConversationsLoaded{ProjectID: "p2", Conversations: []models.Conversation{{ID: "c"}}})
	assert.Empty(t, s.Conversations)

	s = Reduce(s, POsLoaded{ProjectID: "p1", Date: "2024-05-01", POs: []models.PurchaseOrder{{PONumber: "Y"}}})
	assert.Equal(t, "2024-05-01", s.SelectedDate)
	require.Len(t, s.POsSelectedDate, 1)
}

func TestDocumentCountsUpdated(t *testing.T) {
	s := State{Projects: []models.Project{{ID: "p1"}}}
	next := Reduce(s, DocumentCountsUpdated{ProjectID: "p1", Counts: models.DocumentCounts{Metadata: 2, Total: 2}})
	assert.Equal(t, 2, next.Projects[0].DocumentCounts.Total)
	assert.Equal(t, 0, s.Projects[0].DocumentCounts.Total)

	missing := Reduce(s, DocumentCountsUpdated{ProjectID: "nope"})
	assert.Equal(t, s, missing)
}

func TestMessageAnnotated(t *testing.T) {
	s := State{Messages: []models.Message{aiMsg("a", "x")}}
	chart := map[string]any{"type": "line"}

	next := Reduce(s, MessageAnnotated{MessageID: "a", Annotation: models.Annotation{Chart: chart}})
	assert.Equal(t, chart, next.Messages[0].Chart)

	assert.Equal(t, s, Reduce(s, MessageAnnotated{MessageID: "zzz", Annotation: models.Annotation{Chart: chart}}))
}

func TestNoticesBounded(t *testing.T) {
	var s State
	for i := range maxNotices + 5 {
		s = Reduce(s, WorkflowNotice{Notice: Notice{Text: fmt.Sprintf("n%d", i)}})
	}
	require.Len(t, s.Notices, maxNotices)
	assert.Equal(t, "n5", s.Notices[0].Text)
}

func TestConnectionChanged(t *testing.T) {
	s := Reduce(State{}, ConnectionChanged{State: channel.Connected})
	assert.Equal(t, channel.Connected, s.Connection)
}

func TestConversationDeleted(t *testing.T) {
	s := State{ConversationID: "c1", Conversations: []models.Conversation{{ID: "c1"}, {ID: "c2"}}, Messages: []models.Message{aiMsg("1", "x")}}

	next := Reduce(s, ConversationDeleted{ID: "c1"})
	assert.Equal(t, "", next.ConversationID)
	assert.Empty(t, next.Messages)
	require.Len(t, next.Conversations, 1)
	assert.Equal(t, "c2", next.Conversations[0].ID)
	assert.Len(t, s.Conversations, 2)
}

func TestStoreDispatchAndSubscribe(t *testing.T) {
	st := NewStore(State{})
	var seen []string
	unsubscribe := st.Subscribe(func(s State) { seen = append(seen, s.Input) })

	st.Dispatch(InputChanged{Text: "a"})
	st.Dispatch(InputChanged{Text: "ab"})
	unsubscribe()
	st.Dispatch(InputChanged{Text: "abc"})

	assert.Equal(t, []string{"a", "ab"}, seen)
	assert.Equal(t, "abc", st.Snapshot().Input)
}
