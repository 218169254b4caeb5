package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/sqlchat-go/internal/models"
)

var (
	docsType   string
	docsWatch  bool
	docsForce  bool
	docsFilter string
)

var docsCmd = &cobra.Command{
	Use:     "docs",
	Aliases: []string{"documents"},
	Short:   "Manage project documents",
	Long: `Upload and inspect the documents the assistant uses to write SQL.

Document types:
  metadata       Schema descriptions (tables, columns, relations)
  businesslogic  Business rules and definitions
  references     Reference material and example queries

Uploaded documents are embedded server-side before chat is available.

Examples:
  sqlchat docs -p "Sales DB"
  sqlchat docs upload schema.sql tables.md --type metadata --watch
  sqlchat docs status --watch
  sqlchat docs delete 42`,
	Args: cobra.NoArgs,
	RunE: runDocsList,
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents of a project",
	Args:  cobra.NoArgs,
	RunE:  runDocsList,
}

var docsUploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload documents to a project",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDocsUpload,
}

var docsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show embedding progress",
	Args:  cobra.NoArgs,
	RunE:  runDocsStatus,
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsDelete,
}

func init() {
	docsListCmd.Flags().StringVarP(&docsFilter, "type", "t", "", "only list documents of this type")
	docsUploadCmd.Flags().StringVarP(&docsType, "type", "t", models.DocumentTypeMetadata, "document type (metadata, businesslogic, references)")
	docsUploadCmd.Flags().BoolVarP(&docsWatch, "watch", "w", false, "follow embedding progress after upload")
	docsStatusCmd.Flags().BoolVarP(&docsWatch, "watch", "w", false, "follow embedding progress until done")
	docsDeleteCmd.Flags().BoolVarP(&docsForce, "force", "f", false, "skip confirmation")

	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsUploadCmd)
	docsCmd.AddCommand(docsStatusCmd)
	docsCmd.AddCommand(docsDeleteCmd)
}

func runDocsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	project, err := resolveProject(ctx)
	if err != nil {
		return err
	}

	docs, err := apiClient.ProjectDocuments(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	var shown []models.Document
	for _, d := range docs.Documents {
		if docsFilter == "" || d.DocumentType == docsFilter {
			shown = append(shown, d)
		}
	}
	if len(shown) == 0 {
		fmt.Println("No documents found.")
		return nil
	}

	fmt.Printf("Documents in %s (%d):\n\n", project.Name, len(shown))
	for _, d := range shown {
		name := d.OriginalFilename
		if name == "" {
			name = d.Name
		}
		fmt.Printf("- %s [%s] %s, embedding %s\n", name, d.DocumentType, formatBytes(d.FileSize), orDash(d.EmbeddingStatus))
		if verbose {
			fmt.Printf("  ID: %s  Uploaded: %s\n", d.ID, d.CreatedAt)
		}
	}
	c := docs.Counts
	fmt.Printf("\nTotal: %d (metadata %d, business logic %d, references %d)\n",
		c.Total, c.Metadata, c.BusinessLogic, c.References)
	return nil
}

func runDocsUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if !models.ValidDocumentType(docsType) {
		return fmt.Errorf("invalid document type %q (use metadata, businesslogic or references)", docsType)
	}
	project, err := resolveProject(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Uploading %d file(s) to %s as %s...\n", len(args), project.Name, docsType)
	ctrl := projectController(project)
	res, err := ctrl.UploadDocuments(ctx, docsType, args)
	s := ctrl.Snapshot()
	// Closing stops the embedding poller before the progress view polls.
	ctrl.Close()
	if err != nil {
		return err
	}

	fmt.Printf("Uploaded: %d, failed: %d\n", res.SuccessCount, res.FailedCount)
	for _, e := range res.Errors {
		fmt.Printf("  • %v: %v\n", e["filename"], e["error"])
	}
	if p, ok := s.SelectedProject(); ok && p.DocumentCounts.Total > 0 {
		fmt.Printf("%s now has %d document(s).\n", p.Name, p.DocumentCounts.Total)
	}

	if docsWatch && res.SuccessCount > 0 {
		return RunEmbeddingProgress(apiClient, project.ID, cfg.EmbeddingPollInterval)
	}
	if res.SuccessCount > 0 {
		fmt.Println("Embedding started. Use 'sqlchat docs status --watch' to follow it.")
	}
	return nil
}

func runDocsStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	project, err := resolveProject(ctx)
	if err != nil {
		return err
	}

	if docsWatch {
		return RunEmbeddingProgress(apiClient, project.ID, cfg.EmbeddingPollInterval)
	}

	st, err := apiClient.EmbeddingStatus(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("embedding status: %w", err)
	}
	s := st.Status
	fmt.Printf("Embedding status for %s:\n", project.Name)
	fmt.Printf("  Total:      %d\n", s.Total)
	fmt.Printf("  Completed:  %d\n", s.Completed)
	fmt.Printf("  Processing: %d\n", s.Processing)
	fmt.Printf("  Pending:    %d\n", s.Pending)
	fmt.Printf("  Failed:     %d\n", s.Failed)
	if st.Processing() {
		fmt.Println("\nChat is unavailable until processing finishes.")
	}
	return nil
}

func runDocsDelete(cmd *cobra.Command, args []string) error {
	if err := requireLogin(); err != nil {
		return err
	}

	if !docsForce {
		fmt.Printf("About to delete document: %s\n", args[0])
		ok, err := confirm()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := apiClient.DeleteDocument(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	fmt.Printf("Deleted: %s\n", args[0])
	return nil
}
