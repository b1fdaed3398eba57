package coaching

import (
	"strings"

	"github.com/MrWong99/callcoach/internal/lexicon"
	"github.com/MrWong99/callcoach/pkg/types"
)

// ── Deterministic rules ──────────────────────────────────────────────────────

// fallbackRule produces one suggestion when its cue is present.
type fallbackRule struct {
	cue        lexicon.Cue
	suggestion types.Suggestion
}

var (
	deEscalation = types.Suggestion{
		ID:             "fallback-de_escalation",
		Type:           types.SuggestionDeEscalation,
		Priority:       types.SeverityHigh,
		Title:          "Calm the conversation",
		LocalizedTitle: "Tuliza mazungumzo",
		Description:    "The customer sounds upset. Slow down, acknowledge the frustration and avoid pressure.",
		Phrases: []string{
			"I hear you, and I'm sorry this has been stressful.",
			"Let's find a way forward that works for you.",
		},
		LocalizedPhrases: []string{
			"Nakuelewa, na samahani kwa usumbufu huu.",
			"Tutafute njia itakayokufaa.",
		},
	}

	jobLossEmpathy = types.Suggestion{
		ID:             "fallback-empathy",
		Type:           types.SuggestionEmpathy,
		Priority:       types.SeverityHigh,
		Title:          "Acknowledge the job loss",
		LocalizedTitle: "Tambua kupoteza kazi",
		Description:    "The customer lost their income. Show understanding and explore a reduced or deferred plan.",
		Phrases: []string{
			"I'm sorry to hear about your job. That is a difficult situation.",
			"Would a smaller amount for now, reviewed next month, be manageable?",
		},
		LocalizedPhrases: []string{
			"Pole sana kwa kupoteza kazi. Hiyo ni hali ngumu.",
			"Je, kiasi kidogo kwa sasa, tukiangalia tena mwezi ujao, kinawezekana?",
		},
	}

	hardshipEmpathy = types.Suggestion{
		ID:             "fallback-empathy",
		Type:           types.SuggestionEmpathy,
		Priority:       types.SeverityMedium,
		Title:          "Show empathy",
		LocalizedTitle: "Onyesha huruma",
		Description:    "The customer mentioned financial difficulty. Acknowledge it before discussing options.",
		Phrases: []string{
			"I understand things are tight right now.",
			"What amount would be realistic for you this month?",
		},
		LocalizedPhrases: []string{
			"Naelewa hali ni ngumu kwa sasa.",
			"Ni kiasi gani unaweza kulipa mwezi huu?",
		},
	}

	closing = types.Suggestion{
		ID:             "fallback-closing",
		Type:           types.SuggestionClosing,
		Priority:       types.SeverityMedium,
		Title:          "Confirm the commitment",
		LocalizedTitle: "Thibitisha ahadi",
		Description:    "The customer made a commitment. Restate the amount and date and get explicit confirmation.",
		Phrases: []string{
			"Just to confirm, you'll pay that amount by the date we agreed?",
			"Thank you. I'll note this commitment on your account.",
		},
		LocalizedPhrases: []string{
			"Kuthibitisha, utalipa kiasi hicho kufikia tarehe tuliyokubaliana?",
			"Asante. Nitaandika ahadi hii kwenye akaunti yako.",
		},
	}

	verification = types.Suggestion{
		ID:             "fallback-verification",
		Type:           types.SuggestionVerification,
		Priority:       types.SeverityMedium,
		Title:          "Verify payment details",
		LocalizedTitle: "Thibitisha maelezo ya malipo",
		Description:    "A payment channel was mentioned. Confirm the paybill or till number and account reference.",
		Phrases: []string{
			"Please use our official paybill number with your account number as the reference.",
			"Once you've paid, could you share the M-Pesa confirmation code?",
		},
		LocalizedPhrases: []string{
			"Tafadhali tumia namba yetu rasmi ya paybill na namba ya akaunti yako kama kumbukumbu.",
			"Ukishalipa, unaweza kunitumia nambari ya uthibitisho ya M-Pesa?",
		},
	}

	rapport = types.Suggestion{
		ID:             "fallback-rapport",
		Type:           types.SuggestionRapport,
		Priority:       types.SeverityLow,
		Title:          "Build rapport",
		LocalizedTitle: "Jenga uhusiano",
		Description:    "Keep the tone friendly and ask open questions to understand the customer's situation.",
		Phrases: []string{
			"How have things been for you lately?",
			"I'm here to help find a solution that works for both of us.",
		},
		LocalizedPhrases: []string{
			"Mambo yamekuwaje kwako siku hizi?",
			"Niko hapa kukusaidia kupata suluhisho linalotufaa sote.",
		},
	}
)

// fallbackRules are evaluated in order. The two empathy rules are exclusive:
// job loss takes precedence over general hardship.
var fallbackRules = []fallbackRule{
	{cue: lexicon.CueAnger, suggestion: deEscalation},
	{cue: lexicon.CueJobLoss, suggestion: jobLossEmpathy},
	{cue: lexicon.CueHardship, suggestion: hardshipEmpathy},
	{cue: lexicon.CueCommitment, suggestion: closing},
	{cue: lexicon.CuePaymentChannel, suggestion: verification},
}

// Fallback returns rule-based suggestions for transcript. At most one
// suggestion per type is returned and the result is never empty.
func Fallback(lex *lexicon.Lexicon, transcript string) []types.Suggestion {
	lower := strings.ToLower(transcript)
	var out []types.Suggestion
	seen := make(map[types.SuggestionType]bool)
	for _, rule := range fallbackRules {
		if seen[rule.suggestion.Type] || !lex.HasCue(rule.cue, lower) {
			continue
		}
		seen[rule.suggestion.Type] = true
		out = append(out, clone(rule.suggestion))
	}
	if len(out) == 0 {
		out = append(out, clone(rapport))
	}
	return out
}

func clone(s types.Suggestion) types.Suggestion {
	s.Phrases = append([]string(nil), s.Phrases...)
	s.LocalizedPhrases = append([]string(nil), s.LocalizedPhrases...)
	return s
}
