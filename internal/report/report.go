// Package report renders stats reports for terminals and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/wikimannia/refreshstats/internal/model"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Formats lists the accepted output formats.
func Formats() []string {
	return []string{FormatText, FormatJSON, FormatYAML}
}

// Render writes rep to w in the given format.
func Render(w io.Writer, rep model.Report, format string) error {
	switch strings.ToLower(format) {
	case "", FormatText:
		_, err := io.WriteString(w, Text(w, rep))
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("report: unknown format %q (want %s)", format, strings.Join(Formats(), ", "))
	}
}

// Text renders rep as a comparison table followed by one message box per
// metric. Colours follow the capabilities of out.
func Text(out io.Writer, rep model.Report) string {
	r := lipgloss.NewRenderer(out)
	bold := r.NewStyle().Bold(true)
	dim := r.NewStyle().Foreground(lipgloss.Color("240"))
	cell := r.NewStyle().Padding(0, 1)
	okBox := r.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("42")).
		Padding(0, 1)
	errBox := okBox.BorderForeground(lipgloss.Color("196"))
	warnBox := okBox.BorderForeground(lipgloss.Color("220"))

	title := "Site statistics"
	if rep.DryRun {
		title += " (check)"
	} else {
		title += " (reconcile)"
	}

	headers := []string{""}
	computed := []string{"Counted in database"}
	stored := []string{"Statistics table"}
	confirmed := []string{"After update"}
	for _, res := range rep.Results {
		headers = append(headers, res.Label)
		computed = append(computed, strconv.FormatInt(res.Computed, 10))
		stored = append(stored, strconv.FormatInt(res.Cached, 10))
		confirmed = append(confirmed, strconv.FormatInt(res.Confirmed, 10))
	}
	rows := [][]string{computed, stored}
	if !rep.DryRun {
		rows = append(rows, confirmed)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dim).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow || col == 0 {
				return cell.Bold(true)
			}
			return cell.Align(lipgloss.Right)
		})

	var b strings.Builder
	b.WriteString(bold.Render(title))
	b.WriteString("\n")
	b.WriteString(t.String())
	b.WriteString("\n")

	for _, res := range rep.Results {
		msg := Message(res)
		switch res.Status {
		case model.StatusConsistent, model.StatusCorrected:
			b.WriteString(okBox.Render(msg))
		case model.StatusDrift:
			b.WriteString(warnBox.Render(msg))
		default:
			b.WriteString(errBox.Render(msg))
		}
		b.WriteString("\n")
	}

	switch {
	case rep.OK:
	case rep.DryRun:
		b.WriteString(errBox.Render("The statistics table is inconsistent. Run reconcile to correct it."))
		b.WriteString("\n")
	default:
		b.WriteString(errBox.Render("Some counters could not be corrected. Please run the update again."))
		b.WriteString("\n")
	}
	b.WriteString(dim.Render(fmt.Sprintf("finished in %s", rep.Duration.Round(time.Millisecond))))
	b.WriteString("\n")
	return b.String()
}

// Message is the one-line human summary for res.
func Message(res model.Result) string {
	what := strings.ToLower(res.Label)
	switch res.Status {
	case model.StatusConsistent:
		return fmt.Sprintf("The number of %s (%d) is correct.", what, res.Computed)
	case model.StatusCorrected:
		return fmt.Sprintf("The number of %s was corrected from %d to %d.", what, res.Cached, res.Confirmed)
	case model.StatusDrift:
		return fmt.Sprintf("The number of %s is %d but the statistics table holds %d.", what, res.Computed, res.Cached)
	default:
		if res.Error != "" {
			return fmt.Sprintf("The number of %s could not be corrected: %s.", what, res.Error)
		}
		return fmt.Sprintf("The number of %s could not be corrected.", what)
	}
}
