package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/sqlchat-go/internal/channel"
	"github.com/raphaelgruber/sqlchat-go/internal/models"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live workflow and purchase order events",
	Long: `Connect to the project's event channel and print purchase order status
changes and workflow progress as they happen. The connection is retried with
exponential backoff when it drops.

Examples:
  sqlchat watch -p "Sales DB"`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	project, err := resolveProject(ctx)
	if err != nil {
		return err
	}

	ch := newEventChannel()
	defer ch.Close()

	gaveUp := make(chan error, 1)
	ch.OnStateChange(func(s channel.State) {
		fmt.Println(defaultTheme.hintStyle().Render(fmt.Sprintf("[%s] %s", time.Now().Format(time.TimeOnly), s)))
	})
	ch.OnGiveUp(func(reason error) {
		select {
		case gaveUp <- reason:
		default:
		}
	})
	ch.OnEvent(func(ev models.Event) {
		if line := formatEvent(ev); line != "" {
			fmt.Println(line)
		}
	})

	fmt.Printf("Watching %s. Press Ctrl+C to stop.\n", project.Name)
	ch.Select(project.ID)

	select {
	case <-ctx.Done():
		return nil
	case reason := <-gaveUp:
		return giveUpError(reason, ch.Attempts())
	}
}

// giveUpError explains why the event channel stopped reconnecting.
func giveUpError(reason error, attempts int) error {
	if errors.Is(reason, channel.ErrAuthFailed) {
		return errors.New("session expired, run 'sqlchat login'")
	}
	return fmt.Errorf("gave up after %d connection attempts", attempts)
}

// newEventChannel creates the project event channel. A rejected token is
// cleared like a 401 from the REST API.
func newEventChannel() *channel.Channel {
	return channel.New(cfg.WebSocketURL(), channel.Options{
		Tokens:  tokens,
		Logger:  logger,
		Metrics: collector,
		OnUnauthorized: func() {
			if err := tokens.Clear(); err != nil {
				logger.Warn("failed to clear token", "error", err)
			}
		},
	})
}

// formatEvent renders a pushed event as one line, or "" for events that are
// not shown.
func formatEvent(ev models.Event) string {
	t := defaultTheme
	switch e := ev.(type) {
	case models.POStatusUpdate:
		text := fmt.Sprintf("%s → %s", e.PONumber, e.Status)
		if e.Message != "" {
			text += " (" + e.Message + ")"
		}
		return stamp(e.Timestamp) + t.statusStyle().Render("[po] ") + text
	case models.WorkflowProgress:
		text := e.Message
		if e.Step != "" {
			text = e.Step + ": " + text
		}
		return stamp(e.Timestamp) + t.statusStyle().Render("[workflow "+shortID(e.WorkflowID)+"] ") + text
	case models.WorkflowComplete:
		return stamp(e.Timestamp) + t.completedStyle().Render("✓ workflow "+shortID(e.WorkflowID)+" ") + e.Message
	case models.WorkflowError:
		return stamp(e.Timestamp) + t.errorStyle().Render("✗ workflow "+shortID(e.WorkflowID)+" ") + e.Error
	case models.ConnectionEstablished:
		if e.Message != "" {
			return t.hintStyle().Render(e.Message)
		}
	}
	return ""
}

func stamp(ts models.Timestamp) string {
	at := ts.Time
	if at.IsZero() {
		at = time.Now()
	}
	return at.Local().Format(time.TimeOnly) + " "
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
