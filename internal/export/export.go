package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mohamedkhairy/rate-notifier/internal/models"
)

const (
	// ContentTypeCSV is the media type of the CSV exports
	ContentTypeCSV = "text/csv; charset=utf-8"
	// ContentTypeMarkdown is the media type of the Markdown export
	ContentTypeMarkdown = "text/markdown; charset=utf-8"

	// utf8BOM lets spreadsheet applications detect the history CSV encoding
	utf8BOM = "\ufeff"

	placeholder = "—"
)

var (
	ruleHeaders = []string{
		"id", "currencyFrom", "currencyTo", "frequency", "timeOfDay", "dayOfWeek",
		"lastExchangeRate", "thresholdPercent", "notifyIfBetter", "notifyIfWorse", "enabled",
	}
	historyHeaders = []string{"id", "date", "pair", "rate", "delta", "percent", "message"}
)

// WriteRulesCSV writes one row per rule. Absent optional values are empty cells.
func WriteRulesCSV(w io.Writer, rules []*models.Rule) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ruleHeaders); err != nil {
		return fmt.Errorf("failed to write rules header: %w", err)
	}

	for _, rule := range rules {
		if rule == nil {
			continue
		}
		record := []string{
			rule.ID,
			rule.CurrencyFrom,
			rule.CurrencyTo,
			string(rule.Frequency),
			rule.TimeOfDay,
			optionalInt(rule.DayOfWeek),
			optionalFloat(rule.LastExchangeRate),
			optionalFloat(rule.ThresholdPercent),
			strconv.FormatBool(rule.NotifyIfBetter),
			strconv.FormatBool(rule.NotifyIfWorse),
			strconv.FormatBool(rule.Enabled),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write rule %s: %w", rule.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteHistoryCSV writes the history in stored order, prefixed with a UTF-8 BOM
func WriteHistoryCSV(w io.Writer, entries []*models.HistoryEntry) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return fmt.Errorf("failed to write byte order mark: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(historyHeaders); err != nil {
		return fmt.Errorf("failed to write history header: %w", err)
	}

	for _, entry := range entries {
		if entry == nil {
			continue
		}
		record := []string{
			entry.ID,
			formatDate(entry.Date),
			entry.Pair,
			formatFloat(entry.Rate),
			formatFloat(entry.Delta),
			formatFloat(entry.Percent),
			entry.Message,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write history entry %s: %w", entry.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteHistoryMarkdown renders the history as a Markdown table, newest first.
// Dates are shown in loc; nil means UTC.
func WriteHistoryMarkdown(w io.Writer, entries []*models.HistoryEntry, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	var b strings.Builder
	b.WriteString("# Notification History\n\n")
	b.WriteString("| Date | Pair | Rate | Delta | % | Message |\n")
	b.WriteString("| --- | --- | --- | --- | --- | --- |\n")

	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if entry == nil {
			continue
		}

		date := placeholder
		if !entry.Date.IsZero() {
			date = entry.Date.In(loc).Format("2006-01-02 15:04:05")
		}

		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			date,
			orPlaceholder(escapeCell(entry.Pair)),
			strconv.FormatFloat(entry.Rate, 'f', 4, 64),
			strconv.FormatFloat(entry.Delta, 'f', 4, 64),
			strconv.FormatFloat(entry.Percent, 'f', 2, 64)+"%",
			orPlaceholder(escapeCell(entry.Message)),
		)
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write markdown: %w", err)
	}
	return nil
}

// escapeCell keeps pipes and line breaks from splitting a table row
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.ReplaceAll(s, "\n", " ")
}

func orPlaceholder(s string) string {
	if s == "" {
		return placeholder
	}
	return s
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optionalFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
