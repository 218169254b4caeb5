package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/sqlchat-go/internal/client"
	"github.com/raphaelgruber/sqlchat-go/internal/models"
)

var (
	pdfTitle  string
	pdfOutput string
)

var pdfCmd = &cobra.Command{
	Use:   "pdf <question>",
	Short: "Ask a question and save the result as a PDF report",
	Long: `Ask a question, then render the answer, SQL and result rows as a PDF
report generated by the server.

Examples:
  sqlchat pdf "Top 10 vendors by spend this year" --title "Vendor spend"
  sqlchat pdf "Monthly revenue" -o revenue.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPDF,
}

func init() {
	pdfCmd.Flags().StringVarP(&pdfTitle, "title", "t", "", "report title (default: the question)")
	pdfCmd.Flags().StringVarP(&pdfOutput, "output", "o", "report.pdf", "output file or directory")
}

func runPDF(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	question := strings.Join(args, " ")

	project, err := resolveProject(ctx)
	if err != nil {
		return err
	}

	reply, err := askOnce(cmd, project.ID, "", question)
	if err != nil {
		return err
	}
	if reply.Message.IsError {
		fmt.Println(renderMessage(defaultTheme, reply.Message))
		return errors.New("query failed, no report generated")
	}

	title := pdfTitle
	if title == "" {
		title = question
	}
	report := reportFor(title, question, reply.Message)
	if len(report.Data) == 0 {
		return errors.New("the answer has no result rows to report")
	}

	data, err := apiClient.GeneratePDF(ctx, report)
	if err != nil {
		return fmt.Errorf("generate report: %w", err)
	}
	return savePDF(data, pdfOutput, "report.pdf")
}

// reportFor builds a report request from an assistant answer.
func reportFor(title, question string, msg models.Message) client.ReportRequest {
	req := client.ReportRequest{
		Title:       title,
		Query:       question,
		SQLQuery:    msg.SQLQuery,
		Chart:       msg.Chart,
		Explanation: msg.Content,
	}
	rows, _ := msg.QueryResult["data"].([]any)
	for _, r := range rows {
		if obj, ok := r.(map[string]any); ok {
			req.Data = append(req.Data, obj)
		}
	}
	return req
}
