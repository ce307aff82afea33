package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"assetdesk/internal/renewal/duedate"
	renewalmetrics "assetdesk/internal/renewal/metrics"
	"assetdesk/internal/renewal/service"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	overdueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func dueSoonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "due-soon",
		Short: "Print the renewals that are due soon",
		Long: `Classify the register once against today's window and print the
obligations that are due soon, earliest first. Suitable for cron.`,
		RunE: runDueSoon,
	}
	cmd.Flags().Bool("json", false, "Print JSON instead of a table")
	return cmd
}

func runDueSoon(cmd *cobra.Command, _ []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, log, renewalmetrics.NewWithRegisterer(prometheus.NewRegistry()))
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.service.DueSoon(ctx)
	if err != nil {
		return fmt.Errorf("failed to classify renewals: %w", err)
	}
	if asJSON {
		return writeDueSoonJSON(os.Stdout, result)
	}
	return writeDueSoonTable(os.Stdout, result)
}

type dueSoonItem struct {
	ID          int64  `json:"id"`
	Particulars string `json:"compliance_particulars"`
	NextDueDate string `json:"next_due_date"`
	Overdue     bool   `json:"is_overdue"`
}

func writeDueSoonJSON(out io.Writer, result *service.DueSoonResult) error {
	items := make([]dueSoonItem, 0, len(result.Items))
	for _, r := range result.Items {
		items = append(items, dueSoonItem{
			ID:          int64(r.ID),
			Particulars: r.Particulars,
			NextDueDate: r.NextDueDate.String(),
			Overdue:     duedate.Overdue(r.NextDueDate, result.Today),
		})
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"today": result.Today.String(),
		"count": len(items),
		"items": items,
	})
}

// columnGap separates table columns.
const columnGap = "  "

type cell struct {
	text  string
	style lipgloss.Style
}

// writeDueSoonTable pads each cell on its plain text and styles it
// afterwards, so escape sequences never count toward column width.
func writeDueSoonTable(out io.Writer, result *service.DueSoonResult) error {
	if len(result.Items) == 0 {
		_, err := fmt.Fprintf(out, "Nothing due soon (today %s)\n", result.Today)
		return err
	}

	rows := [][]cell{{
		{"ID", headerStyle},
		{"Next Due", headerStyle},
		{"Compliance Particulars", headerStyle},
	}}
	plain := lipgloss.NewStyle()
	for _, r := range result.Items {
		due := cell{r.NextDueDate.String(), plain}
		if duedate.Overdue(r.NextDueDate, result.Today) {
			due.style = overdueStyle
		}
		rows = append(rows, []cell{{strconv.FormatInt(int64(r.ID), 10), plain}, due, {r.Particulars, plain}})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, c := range row {
			widths[i] = max(widths[i], lipgloss.Width(c.text))
		}
	}

	var b strings.Builder
	for _, row := range rows {
		for i, c := range row {
			if i > 0 {
				b.WriteString(columnGap)
			}
			b.WriteString(c.style.Render(c.text))
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(c.text)))
			}
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\n%d due soon (today %s)\n", len(result.Items), result.Today)
	if _, err := io.WriteString(out, b.String()); err != nil {
		return fmt.Errorf("failed to write table: %w", err)
	}
	return nil
}
