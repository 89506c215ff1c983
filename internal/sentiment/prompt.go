package sentiment

import "strings"

const classificationPrompt = `You are a financial analyst.
Classify the following earnings call excerpt by sentiment toward:
1. Revenue
2. Expenses
3. Profitability
4. Guidance/Outlook
5. Risks/Uncertainty

Sentiment scale: Positive, Neutral, Negative.
Return ONLY a compact JSON object with these exact keys: ["Revenue","Expenses","Profitability","Guidance","Uncertainty"].

Text:
`

// BuildPrompt creates the classification prompt for one speaker block.
func BuildPrompt(blockText string) string {
	var sb strings.Builder
	sb.Grow(len(classificationPrompt) + len(blockText) + 8)
	sb.WriteString(classificationPrompt)
	sb.WriteString(`"""`)
	sb.WriteString(blockText)
	sb.WriteString(`"""`)
	return sb.String()
}
