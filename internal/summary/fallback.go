package summary

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/MrWong99/callcoach/internal/lexicon"
	"github.com/MrWong99/callcoach/pkg/types"
)

// Fixed output for calls too short to summarise.
const MinimalText = "The call ended before any meaningful conversation was recorded."

var minimalActions = []string{
	"Attempt to reach the customer again at a different time",
	"Verify the customer's contact details",
}

// briefCallChars separates a brief call from a real conversation when no
// rule-based next action applies.
const briefCallChars = 200

// FallbackText builds the summary text from the call's extraction without
// any model involvement.
func FallbackText(call *types.Call) string {
	ex := call.Extraction
	currency := currencyOf(call.Customer)
	var parts []string

	name := call.Customer.Name
	if name == "" {
		name = "the customer"
	}
	parts = append(parts, fmt.Sprintf("Call with %s lasted %s.", name, FormatDuration(call.Duration)))

	switch ex.Sentiment.Label {
	case types.SentimentPositive:
		parts = append(parts, "The customer was cooperative and receptive throughout the call.")
	case types.SentimentNegative:
		parts = append(parts, "The customer was frustrated or resistant during the call.")
	default:
		parts = append(parts, "The customer maintained a neutral tone during the call.")
	}

	if len(ex.Objections) > 0 {
		var kinds []string
		for _, o := range ex.Objections {
			kinds = appendUnique(kinds, humanize(string(o.Type)))
		}
		parts = append(parts, fmt.Sprintf("Objections raised: %s.", strings.Join(kinds, ", ")))
	}

	if hasAmount(ex.Promises) {
		parts = append(parts, fmt.Sprintf("The customer promised to pay %s %s in total.", currency, FormatAmount(ex.TotalPromised())))
	}

	if len(ex.Agreements) > 0 {
		var kinds []string
		for _, a := range ex.Agreements {
			kinds = appendUnique(kinds, humanize(string(a.Type)))
		}
		parts = append(parts, fmt.Sprintf("Agreements reached: %s.", strings.Join(kinds, ", ")))
	}

	return strings.Join(parts, " ")
}

// NextActions derives follow-up actions from the call by a fixed priority
// list, returning at most limit entries. It never returns an empty list.
func NextActions(lex *lexicon.Lexicon, call *types.Call, limit int) []string {
	ex := call.Extraction
	currency := currencyOf(call.Customer)
	transcript := call.TranscriptText()
	lower := strings.ToLower(transcript)

	var actions []string
	add := func(a ...string) { actions = append(actions, a...) }

	if hasAmount(ex.Promises) {
		add(fmt.Sprintf("Monitor the account for the promised payment of %s %s", currency, FormatAmount(ex.TotalPromised())))
	}
	if len(ex.Promises) > 0 {
		if due := lastDueDate(ex.Promises); due != "" {
			add(fmt.Sprintf("Send a payment reminder before %s", due))
		} else {
			add("Confirm a specific payment date with the customer")
		}
	}
	if lex.HasCue(lexicon.CuePaymentChannel, lower) {
		add("Verify the M-Pesa payment against the account once received")
	}
	if hasAgreement(ex.Agreements, types.AgreementPaymentPlan) {
		add("Document the agreed payment plan and send the schedule to the customer")
	}
	if hasAgreement(ex.Agreements, types.AgreementCallback) {
		add("Schedule the callback the customer agreed to")
	}
	if hasObjection(ex.Objections, types.ObjectionJobLoss) || hasObjection(ex.Objections, types.ObjectionFinancialHardship) {
		add("Review the account for a hardship arrangement")
	}
	if hasObjection(ex.Objections, types.ObjectionMedical) {
		add("Flag the account for medical hardship consideration")
	}
	if hasObjection(ex.Objections, types.ObjectionDispute) {
		add("Escalate the disputed balance to the disputes team",
			"Send the customer a detailed account statement")
	}
	if lex.HasCue(lexicon.CueDocuments, lower) {
		add("Send the requested documents to the customer")
	}
	if ex.Sentiment.Label == types.SentimentNegative {
		add("Escalate to a supervisor to review the customer relationship")
	}

	if len(actions) == 0 {
		if len([]rune(transcript)) < briefCallChars {
			return []string{"Retry the call at a more convenient time for the customer"}
		}
		return []string{"Schedule a follow-up call to discuss repayment options"}
	}
	if limit > 0 && len(actions) > limit {
		actions = actions[:limit]
	}
	return actions
}

// FormatDuration renders seconds as m:ss, or h:mm:ss for calls of an hour or
// more.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatAmount renders v with comma thousands separators and two decimals
// only when v has a fractional part.
func FormatAmount(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	whole, frac, _ := strings.Cut(s, ".")
	neg := strings.HasPrefix(whole, "-")
	whole = strings.TrimPrefix(whole, "-")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if frac != "00" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

func currencyOf(c types.Customer) string {
	if c.Currency != "" {
		return c.Currency
	}
	return "KES"
}

func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

func appendUnique(dst []string, s string) []string {
	if slices.Contains(dst, s) {
		return dst
	}
	return append(dst, s)
}

func hasAmount(ps []types.Promise) bool {
	return slices.ContainsFunc(ps, func(p types.Promise) bool { return p.Amount != nil })
}

func lastDueDate(ps []types.Promise) string {
	for i := len(ps) - 1; i >= 0; i-- {
		if ps[i].DueDate != "" {
			return ps[i].DueDate
		}
	}
	return ""
}

func hasAgreement(as []types.Agreement, t types.AgreementType) bool {
	return slices.ContainsFunc(as, func(a types.Agreement) bool { return a.Type == t })
}

func hasObjection(os []types.Objection, t types.ObjectionType) bool {
	return slices.ContainsFunc(os, func(o types.Objection) bool { return o.Type == t })
}
