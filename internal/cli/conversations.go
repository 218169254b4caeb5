package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/sqlchat-go/internal/conversation"
)

var conversationsForce bool

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "List, show and delete conversations",
	Long: `Inspect the conversation history of a project.

Subcommands:
  list    List conversations (default)
  show    Print the messages of a conversation
  delete  Delete a conversation

Examples:
  sqlchat conversations -p "Sales DB"
  sqlchat conversations show 12
  sqlchat conversations delete 12 --force`,
	Args: cobra.NoArgs,
	RunE: runConversationsList,
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations of a project",
	Args:  cobra.NoArgs,
	RunE:  runConversationsList,
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Print the messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsShow,
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsDelete,
}

func init() {
	conversationsDeleteCmd.Flags().BoolVarP(&conversationsForce, "force", "f", false, "skip confirmation")

	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)
}

func runConversationsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	project, err := resolveProject(ctx)
	if err != nil {
		return err
	}

	convs, err := conversation.NewLoader(apiClient, logger).LoadConversations(ctx, project.ID)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Println("No conversations found.")
		return nil
	}

	fmt.Printf("Conversations in %s (%d):\n\n", project.Name, len(convs))
	for _, c := range convs {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		updated := "-"
		if !c.UpdatedAt.IsZero() {
			updated = c.UpdatedAt.Local().Format(time.DateTime)
		}
		fmt.Printf("- [%s] %s (%d messages, updated %s)\n", c.ID, title, c.MessageCount, updated)
	}
	return nil
}

func runConversationsShow(cmd *cobra.Command, args []string) error {
	if err := requireLogin(); err != nil {
		return err
	}

	msgs, err := conversation.NewLoader(apiClient, logger).LoadMessages(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Println(renderMessage(defaultTheme, m))
	}
	return nil
}

func runConversationsDelete(cmd *cobra.Command, args []string) error {
	if err := requireLogin(); err != nil {
		return err
	}

	if !conversationsForce {
		fmt.Printf("About to delete conversation: %s\n", args[0])
		ok, err := confirm()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := apiClient.DeleteConversation(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	fmt.Printf("Deleted: %s\n", args[0])
	return nil
}
