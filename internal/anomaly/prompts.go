package anomaly

import "google.golang.org/genai"

// taskPrompt is the fixed instruction sent ahead of the sampled transactions.
const taskPrompt = "You are an expert Cash Audit AI. Analyze the following list of cash transactions.\n" +
	"Look for anomalies such as:\n" +
	"1. Split transactions (structuring) just below authorization limits.\n" +
	"2. Round numbers where precise amounts are expected.\n" +
	"3. Duplicate payments.\n" +
	"4. Weekend or holiday transactions.\n\n" +
	"Return a JSON object with:\n" +
	"- \"summary\": a brief executive summary of findings (max 2 sentences).\n" +
	"- \"flaggedIds\": an array of transaction IDs that seem suspicious.\n" +
	"- \"findings\": an array of objects, each containing \"id\" and \"reason\" for a flagged transaction.\n\n" +
	"Only use IDs that appear in the data. Return ONLY raw JSON.\n\n" +
	"Data: "

// responseSchema constrains the model output to the classifier contract.
var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"summary": {Type: genai.TypeString},
		"flaggedIds": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
		"findings": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"id":     {Type: genai.TypeString},
					"reason": {Type: genai.TypeString},
				},
				Required: []string{"id", "reason"},
			},
		},
	},
	Required: []string{"summary", "flaggedIds", "findings"},
}
