package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/sqlchat-go/internal/models"
	"github.com/raphaelgruber/sqlchat-go/internal/session"
)

var askConversation string

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question",
	Long: `Ask a question about the project's database and print the answer, the
generated SQL and the query result.

Without --conversation a new conversation is started; its ID is printed so
follow-up questions can continue it.

Examples:
  sqlchat ask "How many orders were placed last month?" -p "Sales DB"
  sqlchat ask "Break that down by region" --conversation 12`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askConversation, "conversation", "c", "", "continue an existing conversation")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	question := strings.Join(args, " ")

	project, err := resolveProject(ctx)
	if err != nil {
		return err
	}

	st, err := apiClient.EmbeddingStatus(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("embedding status: %w", err)
	}
	if st.Processing() {
		return fmt.Errorf("%w, run 'sqlchat docs status --watch' and try again", session.ErrEmbeddingInProgress)
	}

	reply, err := askOnce(cmd, project.ID, askConversation, question)
	if err != nil {
		return err
	}

	fmt.Println(renderMessage(defaultTheme, reply.Message))
	if reply.ConversationID != "" {
		fmt.Println(defaultTheme.hintStyle().Render("Conversation: " + reply.ConversationID))
	}
	if reply.Message.IsError {
		return errors.New("query failed")
	}
	return nil
}

// askReply is the answer to a one-shot question.
type askReply struct {
	ConversationID string
	Message        models.Message
}

// askOnce runs a question through a session controller without an event
// channel and waits for the answer.
func askOnce(cmd *cobra.Command, projectID, conversationID, question string) (*askReply, error) {
	ctx := cmd.Context()

	ctrl := session.NewController(apiClient, nil, sessionConfig())
	defer ctrl.Close()
	// Interrupts cancel the in-flight query.
	stop := context.AfterFunc(ctx, ctrl.Close)
	defer stop()

	if err := ctrl.SelectProject(ctx, projectID); err != nil {
		return nil, err
	}
	if conversationID != "" {
		if err := ctrl.SelectConversation(ctx, conversationID); err != nil {
			return nil, fmt.Errorf("load conversation: %w", err)
		}
	}

	if err := ctrl.Submit(question); err != nil {
		return nil, err
	}
	ctrl.Settle()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := ctrl.Snapshot()
	last, ok := s.LastMessage()
	if !ok {
		return nil, errors.New("no answer received")
	}
	return &askReply{ConversationID: s.ConversationID, Message: last}, nil
}
