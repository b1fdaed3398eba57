// Package report renders a completed call as a paginated plain-text document.
//
// The renderer is a pure formatting consumer of [types.CallHistoryItem]: it
// reads nothing else and has no side effects besides writing to w.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/callcoach/pkg/types"
)

// Default page geometry.
const (
	DefaultWidth     = 80
	DefaultPageLines = 60
)

// Options controls page geometry and labels.
type Options struct {
	// Width is the maximum line width in runes.
	Width int
	// PageLines is the number of body lines per page, excluding the header
	// and footer.
	PageLines int
	// Title is printed in every page header.
	Title string
	// Location is used to render timestamps. Defaults to UTC.
	Location *time.Location
}

func (o Options) withDefaults() Options {
	if o.Width <= 20 {
		o.Width = DefaultWidth
	}
	if o.PageLines <= 5 {
		o.PageLines = DefaultPageLines
	}
	if o.Title == "" {
		o.Title = "Collection Call Report"
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// Render writes the report for item to w and returns the number of pages.
// Pages are separated by a form feed.
func Render(w io.Writer, item types.CallHistoryItem, opts Options) (int, error) {
	opts = opts.withDefaults()
	body := buildBody(item, opts)
	pages := paginate(body, opts.PageLines)

	for i, page := range pages {
		var b strings.Builder
		if i > 0 {
			b.WriteString("\f")
		}
		header := fmt.Sprintf("%s | %s", opts.Title, item.Customer.Name)
		b.WriteString(fit(header, opts.Width))
		b.WriteByte('\n')
		b.WriteString(strings.Repeat("=", opts.Width))
		b.WriteByte('\n')
		for _, line := range page {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteString(strings.Repeat("-", opts.Width))
		b.WriteByte('\n')
		fmt.Fprintf(&b, "Call %s  Page %d of %d\n", item.ID, i+1, len(pages))
		if _, err := io.WriteString(w, b.String()); err != nil {
			return i, fmt.Errorf("report: write page %d: %w", i+1, err)
		}
	}
	return len(pages), nil
}

func buildBody(item types.CallHistoryItem, opts Options) []string {
	var lines []string
	currency := item.Customer.Currency
	if currency == "" {
		currency = "KES"
	}
	section := func(title string) {
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, strings.ToUpper(title), strings.Repeat("~", utf8.RuneCountInString(title)))
	}
	field := func(label, value string) {
		if value == "" {
			value = "-"
		}
		lines = append(lines, wrap(fmt.Sprintf("%-17s", label+":"), value, opts.Width)...)
	}
	bullet := func(text string) {
		lines = append(lines, wrap("  * ", text, opts.Width)...)
	}

	section("Customer")
	field("Name", item.Customer.Name)
	field("Phone", item.Customer.Phone)
	field("Account", item.Customer.AccountNumber)
	field("Outstanding", fmt.Sprintf("%s %.2f", currency, item.Customer.DebtAmount))

	section("Session")
	field("Started", item.StartTime.In(opts.Location).Format("2006-01-02 15:04:05"))
	field("Ended", item.EndTime.In(opts.Location).Format("2006-01-02 15:04:05"))
	field("Duration", fmt.Sprintf("%d:%02d", item.Duration/60, item.Duration%60))
	field("Sentiment", fmt.Sprintf("%s (%d/100)", item.Sentiment.Label, item.Sentiment.Score))
	field("Promises", fmt.Sprintf("%d totalling %s %.2f", item.PromiseCount, currency, item.TotalPromisedAmount))

	section("Transcript")
	if len(item.Transcript) == 0 && item.TranscriptText != "" {
		lines = append(lines, wrap("", item.TranscriptText, opts.Width)...)
	}
	for _, e := range item.Transcript {
		speaker := string(e.Speaker)
		if speaker == "" {
			speaker = string(types.SpeakerCustomer)
		}
		prefix := fmt.Sprintf("[%s] ", strings.ToUpper(speaker[:1])+speaker[1:])
		lines = append(lines, wrap(prefix, e.Text, opts.Width)...)
	}
	if len(item.Transcript) == 0 && item.TranscriptText == "" {
		lines = append(lines, "(no transcript recorded)")
	}

	section("Summary")
	if item.SummaryText == "" {
		lines = append(lines, "(no summary)")
	} else {
		lines = append(lines, wrap("", item.SummaryText, opts.Width)...)
	}

	section("Promises")
	if len(item.Extraction.Promises) == 0 {
		lines = append(lines, "(none)")
	}
	for _, p := range item.Extraction.Promises {
		text := p.Description
		if p.Amount != nil {
			text = fmt.Sprintf("%s %.2f: %s", currency, *p.Amount, text)
		}
		if p.DueDate != "" {
			text += " (due " + p.DueDate + ")"
		}
		bullet(text)
	}

	section("Objections")
	if len(item.Extraction.Objections) == 0 {
		lines = append(lines, "(none)")
	}
	for _, o := range item.Extraction.Objections {
		bullet(fmt.Sprintf("%s [%s]: %s", o.Type, o.Severity, o.Description))
	}

	section("Agreements")
	if len(item.Extraction.Agreements) == 0 {
		lines = append(lines, "(none)")
	}
	for _, a := range item.Extraction.Agreements {
		bullet(fmt.Sprintf("%s: %s", a.Type, a.Details))
	}

	section("Next actions")
	if len(item.NextActions) == 0 {
		lines = append(lines, "(none)")
	}
	for i, a := range item.NextActions {
		lines = append(lines, wrap(fmt.Sprintf("%d. ", i+1), a, opts.Width)...)
	}
	return lines
}

// paginate splits lines into pages of at most n lines, avoiding a page that
// starts with a blank line.
func paginate(lines []string, n int) [][]string {
	var pages [][]string
	for len(lines) > 0 {
		for len(lines) > 0 && lines[0] == "" && len(pages) > 0 {
			lines = lines[1:]
		}
		if len(lines) == 0 {
			break
		}
		k := min(n, len(lines))
		pages = append(pages, lines[:k])
		lines = lines[k:]
	}
	if len(pages) == 0 {
		pages = append(pages, nil)
	}
	return pages
}

// wrap breaks text into lines of at most width runes on word boundaries.
// prefix starts the first line; continuation lines are indented to match it.
// Words longer than the available width are split.
func wrap(prefix, text string, width int) []string {
	indent := utf8.RuneCountInString(prefix)
	avail := max(width-indent, 1)
	var words []string
	for _, w := range strings.Fields(text) {
		for utf8.RuneCountInString(w) > avail {
			head, tail := splitRunes(w, avail)
			words = append(words, head)
			w = tail
		}
		words = append(words, w)
	}

	pad := strings.Repeat(" ", indent)
	var (
		lines []string
		cur   strings.Builder
	)
	cur.WriteString(prefix)
	n, empty := indent, true
	for _, w := range words {
		wl := utf8.RuneCountInString(w)
		if !empty && n+1+wl > width {
			lines = append(lines, cur.String())
			cur.Reset()
			cur.WriteString(pad)
			n, empty = indent, true
		}
		if !empty {
			cur.WriteByte(' ')
			n++
		}
		cur.WriteString(w)
		n += wl
		empty = false
	}
	if !empty || len(lines) == 0 {
		lines = append(lines, strings.TrimRight(cur.String(), " "))
	}
	return lines
}

func splitRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}

func fit(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	head, _ := splitRunes(s, width-3)
	return head + "..."
}
