package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	posDate   string
	posOutput string
)

var posCmd = &cobra.Command{
	Use:     "pos",
	Aliases: []string{"po"},
	Short:   "List and download purchase orders",
	Long: `Inspect purchase orders generated by chat workflows.

Subcommands:
  list      List purchase orders for a date (default: today)
  download  Save a purchase order PDF
  view      Save the inline preview of a purchase order

Examples:
  sqlchat pos -p "Sales DB"
  sqlchat pos list --date 2024-05-01
  sqlchat pos download PO-20240501-0001 -o ./orders`,
	Args: cobra.NoArgs,
	RunE: runPOsList,
}

var posListCmd = &cobra.Command{
	Use:   "list",
	Short: "List purchase orders",
	Args:  cobra.NoArgs,
	RunE:  runPOsList,
}

var posDownloadCmd = &cobra.Command{
	Use:   "download <po-number>",
	Short: "Download a purchase order PDF",
	Args:  cobra.ExactArgs(1),
	RunE:  runPOsDownload,
}

var posViewCmd = &cobra.Command{
	Use:   "view <po-number>",
	Short: "Save the inline preview of a purchase order",
	Args:  cobra.ExactArgs(1),
	RunE:  runPOsView,
}

func init() {
	posCmd.Flags().StringVar(&posDate, "date", "", "order date (YYYY-MM-DD)")
	posListCmd.Flags().StringVar(&posDate, "date", "", "order date (YYYY-MM-DD)")
	posDownloadCmd.Flags().StringVarP(&posOutput, "output", "o", "", "output file or directory")
	posViewCmd.Flags().StringVarP(&posOutput, "output", "o", "", "output file or directory")

	posCmd.AddCommand(posListCmd)
	posCmd.AddCommand(posDownloadCmd)
	posCmd.AddCommand(posViewCmd)
}

func runPOsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	project, err := resolveProject(ctx)
	if err != nil {
		return err
	}

	date := posDate
	if date == "" {
		date = time.Now().Format(time.DateOnly)
	}

	// The controller validates the date and normalizes the listing.
	ctrl := projectController(project)
	defer ctrl.Close()
	if err := ctrl.SelectDate(ctx, date); err != nil {
		return err
	}
	s := ctrl.Snapshot()

	if len(s.POsSelectedDate) == 0 {
		fmt.Printf("No purchase orders on %s.\n", date)
		return nil
	}

	fmt.Printf("Purchase orders on %s (%d):\n\n", date, len(s.POsSelectedDate))
	for _, po := range s.POsSelectedDate {
		fmt.Printf("- %s  %-24s %12s  [%s]\n", po.PONumber, po.VendorName, po.TotalAmount, po.Status)
		if verbose && po.VendorEmail != "" {
			fmt.Printf("  Vendor email: %s\n", po.VendorEmail)
		}
	}

	fmt.Printf("\nTotal amount: %s\n", s.POSummary.TotalAmount)
	if len(s.POSummary.StatusBreakdown) > 0 {
		parts := make([]string, 0, len(s.POSummary.StatusBreakdown))
		for _, status := range sortedKeys(s.POSummary.StatusBreakdown) {
			parts = append(parts, fmt.Sprintf("%s %d", status, s.POSummary.StatusBreakdown[status]))
		}
		fmt.Printf("By status: %s\n", strings.Join(parts, ", "))
	}
	return nil
}

func runPOsDownload(cmd *cobra.Command, args []string) error {
	if err := requireLogin(); err != nil {
		return err
	}
	data, err := apiClient.DownloadPO(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("download %s: %w", args[0], err)
	}
	return savePDF(data, posOutput, args[0]+".pdf")
}

func runPOsView(cmd *cobra.Command, args []string) error {
	if err := requireLogin(); err != nil {
		return err
	}
	data, err := apiClient.ViewPO(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("view %s: %w", args[0], err)
	}
	out := posOutput
	if out == "" {
		out = os.TempDir()
	}
	return savePDF(data, out, args[0]+".pdf")
}

// savePDF writes data to output. An empty output means the current
// directory; a directory receives the file under name.
func savePDF(data []byte, output, name string) error {
	path := name
	if output != "" {
		path = output
		if info, err := os.Stat(output); err == nil && info.IsDir() {
			path = filepath.Join(output, name)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("Saved %s (%s)\n", path, formatBytes(int64(len(data))))
	return nil
}
