package analyzer

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
)

// BuildPrompt renders the user prompt for record. Only the first
// indicator.MaxPromptComments comments are included.
func BuildPrompt(record indicator.FetchedRecord) string {
	comments := record.Comments
	if len(comments) > indicator.MaxPromptComments {
		comments = comments[:indicator.MaxPromptComments]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Please analyze and summarize this indicator '%s' from TradingView.\n\n", record.Title)
	fmt.Fprintf(&b, "Description: %s\n\n", record.Description)
	b.WriteString("User Comments:\n")
	if len(comments) == 0 {
		b.WriteString("(none)\n")
	}
	for i, c := range comments {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	b.WriteString(`
Respond with only a JSON object in the following structure:
{
  "indicator_functionality": "",
  "usage_guidelines": "",
  "user_feedback": {"positive": [], "negative": [], "summary": ""},
  "additional_insights": "",
  "ratings": {"profitability": 0, "reliability": 0}
}
Both ratings are integers from 0 to 10.
`)
	return b.String()
}
