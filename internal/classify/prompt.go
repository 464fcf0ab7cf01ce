package classify

import (
	"fmt"
	"strings"
)

// Subject describes the vote a section is classified for.
type Subject struct {
	Security string `json:"security" yaml:"security"` // e.g. "TESLA, INC"
	Ticker   string `json:"ticker" yaml:"ticker"`
	Meeting  string `json:"meeting,omitempty" yaml:"meeting"` // e.g. "21-Mar-18 special meeting"
	Proposal string `json:"proposal,omitempty" yaml:"proposal"`
	// Phrasings lists ways filings word the proposal.
	Phrasings []string `json:"phrasings,omitempty" yaml:"phrasings"`
	// ManagementRec is the management recommendation, used to tell the
	// recommendation column from the vote column.
	ManagementRec string `json:"management_rec,omitempty" yaml:"management_rec"`
}

const voteInstructions = `Consider only the meeting and issue mentioned, disregard other meetings and issues in the input.
Consider only the actual vote, ignore the Management Recommendation%s.
For example, if the input contains "Mgt Rec Vote Cast" then "For Against" on the next line would mean Mgt Rec = For, Vote Cast = Against.
If the input says management recommendation is Against, then columns might be reversed.
The text may be preformatted so keeping track of column alignments may help. Columns may also be separated with the '|' character.
Your response must be "None" if the input does not include a definite vote on the relevant issue (Did Not Vote, incorrect meeting date, irrelevant security).
Otherwise, your response must be a single word, "For" or "Against".
Do not explain your reasoning.`

// BuildPrompt creates the classification prompt for one section of a filing.
func BuildPrompt(s Subject, sectionText string) string {
	var sb strings.Builder
	sb.WriteString("Instructions:\n")
	sb.WriteString("From the input, extract the vote cast on ")
	sb.WriteString(s.Security)
	if s.Ticker != "" {
		fmt.Fprintf(&sb, " (ticker %s)", s.Ticker)
	}
	if s.Proposal != "" {
		fmt.Fprintf(&sb, " issue/proposal %s", s.Proposal)
	}
	if s.Meeting != "" {
		fmt.Fprintf(&sb, " at the %s", s.Meeting)
	}
	sb.WriteString(".\n")
	if len(s.Phrasings) > 0 {
		sb.WriteString("The issue can be identified with one of these phrasings or variations thereof:\n")
		for _, p := range s.Phrasings {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
	}
	rec := ""
	if s.ManagementRec != "" {
		rec = fmt.Sprintf(" (which is %s on this issue)", s.ManagementRec)
	}
	fmt.Fprintf(&sb, voteInstructions, rec)
	sb.WriteString("\n\nInput:\n")
	sb.WriteString(ClipInput(sectionText, MaxInputTokens))
	return sb.String()
}

// MaxInputTokens bounds the section text sent with one prompt. Vote records
// follow the anchor closely, so the head of an oversized section is kept.
const MaxInputTokens = 8000

// EstimateTokens gives a rough token count of about 1.33 tokens per word.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	tokens := int(float64(len(strings.Fields(text))) * 1.33)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// ClipInput keeps the leading whole lines of text that fit in maxTokens.
// The first line is always kept.
func ClipInput(text string, maxTokens int) string {
	if maxTokens <= 0 || EstimateTokens(text) <= maxTokens {
		return text
	}
	lines := strings.SplitAfter(text, "\n")
	var sb strings.Builder
	budget := 0
	for i, line := range lines {
		budget += EstimateTokens(line)
		if i > 0 && budget > maxTokens {
			break
		}
		sb.WriteString(line)
	}
	return sb.String()
}
