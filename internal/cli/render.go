package cli

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/raphaelgruber/sqlchat-go/internal/models"
)

// maxTableRows caps the rows rendered for a query result.
const maxTableRows = 20

// renderMessage formats a chat message for the terminal.
func renderMessage(t Theme, msg models.Message) string {
	var b strings.Builder

	switch {
	case msg.IsError:
		b.WriteString(t.errorStyle().Render("Assistant:"))
	case msg.Sender == models.SenderUser:
		b.WriteString(t.userStyle().Render("You:"))
	default:
		b.WriteString(t.aiStyle().Render("Assistant:"))
	}
	b.WriteString(" ")
	b.WriteString(msg.Content)
	b.WriteString("\n")

	if msg.SQLQuery != "" {
		b.WriteString("\n")
		b.WriteString(t.hintStyle().Render("SQL:"))
		b.WriteString("\n")
		b.WriteString(indent(msg.SQLQuery, "  "))
		b.WriteString("\n")
	}

	if tbl, total := resultTable(msg.QueryResult, maxTableRows); tbl != "" {
		b.WriteString("\n")
		b.WriteString(tbl)
		b.WriteString("\n")
		if total > maxTableRows {
			b.WriteString(t.hintStyle().Render(fmt.Sprintf("showing %d of %d rows", maxTableRows, total)))
			b.WriteString("\n")
		}
	} else if errText, ok := msg.QueryResult["error"].(string); ok && errText != "" {
		b.WriteString(t.errorStyle().Render("Query error: " + errText))
		b.WriteString("\n")
	}

	if msg.Chart != nil {
		b.WriteString(t.hintStyle().Render("Chart: " + chartLabel(msg.Chart)))
		b.WriteString("\n")
	} else if len(msg.ChartSuggestions) > 0 {
		labels := make([]string, len(msg.ChartSuggestions))
		for i, c := range msg.ChartSuggestions {
			labels[i] = fmt.Sprintf("%d) %s", i+1, chartLabel(c))
		}
		b.WriteString(t.hintStyle().Render("Charts: " + strings.Join(labels, "  ")))
		b.WriteString("\n")
	}

	suggestions := msg.FollowupSuggestions
	if len(suggestions) == 0 {
		suggestions = msg.Suggestions
	}
	if len(suggestions) > 0 {
		b.WriteString("\n")
		b.WriteString(t.hintStyle().Render("Try asking:"))
		b.WriteString("\n")
		for _, s := range suggestions {
			b.WriteString("  • " + s + "\n")
		}
	}

	return b.String()
}

// chartLabel names a chart by its title, falling back to its type.
func chartLabel(chart map[string]any) string {
	for _, key := range []string{"title", "chart_type", "type"} {
		if s, ok := chart[key].(string); ok && s != "" {
			return s
		}
	}
	return "chart"
}

// resultTable renders the "data" rows of a query result as a table and
// returns the total row count. Columns are sorted by name since row objects
// carry no order.
func resultTable(qr map[string]any, maxRows int) (string, int) {
	rows, ok := qr["data"].([]any)
	if !ok || len(rows) == 0 {
		return "", 0
	}

	colSet := make(map[string]struct{})
	for _, r := range rows {
		if obj, ok := r.(map[string]any); ok {
			for k := range obj {
				colSet[k] = struct{}{}
			}
		}
	}
	if len(colSet) == 0 {
		return "", len(rows)
	}
	cols := slices.Sorted(maps.Keys(colSet))

	shown := rows[:min(len(rows), maxRows)]
	cells := make([][]string, 0, len(shown))
	for _, r := range shown {
		obj, _ := r.(map[string]any)
		line := make([]string, len(cols))
		for i, c := range cols {
			line[i] = formatCell(obj[c])
		}
		cells = append(cells, line)
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(defaultTheme.Hint)).
		Headers(cols...).
		Rows(cells...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	return tbl.String(), len(rows)
}

// formatCell renders a JSON value for a table cell.
func formatCell(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// formatBytes renders a file size in human units.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
