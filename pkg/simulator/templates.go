package simulator

import "github.com/claudio-flowstack/flowstack/pkg/workflow"

// ArtifactTemplate describes an artifact the simulator can emit for a node.
type ArtifactTemplate struct {
	Type    workflow.ArtifactType `yaml:"type" json:"type"`
	Label   string                `yaml:"label" json:"label"`
	URL     string                `yaml:"url" json:"url"`
	Preview string                `yaml:"preview" json:"preview"`
}

// Templates maps a node type to its artifact template pool. Nodes whose type has
// no entry use the process pool; a type mapped to an empty pool emits nothing.
type Templates map[workflow.NodeType][]ArtifactTemplate

// DefaultTemplates returns the built-in pools.
func DefaultTemplates() Templates {
	return Templates{
		workflow.NodeTypeTrigger: {},
		workflow.NodeTypeProcess: {
			{
				Type:  workflow.ArtifactTypeText,
				Label: "Processing result",
				URL:   "#",
				Preview: "Incoming contact records were validated and normalized. 47 of 52 records were complete. " +
					"5 entries had missing e-mail addresses and were flagged for manual review.\n\n" +
					"Next step: data is forwarded to the AI analysis.",
			},
		},
		workflow.NodeTypeAI: {
			{
				Type:  workflow.ArtifactTypeText,
				Label: "AI-generated e-mail",
				URL:   "#",
				Preview: "Subject: Your custom offer for marketing automation\n\n" +
					"Dear Mr. Miller,\n\nthank you for your interest in our automation solutions. " +
					"Based on your current volume of about 200 leads per month we recommend:\n\n" +
					"- Automatic lead qualification (saves about 12h per week)\n" +
					"- Personalized follow-up sequences\n" +
					"- CRM integration with HubSpot\n\n" +
					"The estimated ROI is 340% in the first quarter.\n\nKind regards,\nThe Flowstack team",
			},
			{
				Type:  workflow.ArtifactTypeText,
				Label: "Content analysis",
				URL:   "#",
				Preview: "Analysis result:\n\n" +
					"• Sentiment: mostly positive (78%)\n" +
					"• Main topics: product quality, customer service, pricing\n" +
					"• Top keywords: \"easy to use\", \"fast support\", \"fair prices\"\n" +
					"• Recommendation: prepare the support team for frequent pricing questions\n" +
					"• Next action: build a social media campaign on positive testimonials",
			},
		},
		workflow.NodeTypeOutput: {
			{Type: workflow.ArtifactTypeFile, Label: "Generated report", URL: "#", Preview: "Report_Q4_2024.pdf, 12 pages"},
			{Type: workflow.ArtifactTypeURL, Label: "Created landing page", URL: "https://example.com/landing", Preview: "https://example.com/landing"},
			{Type: workflow.ArtifactTypeImage, Label: "Social media graphic", URL: "#", Preview: "Instagram post 1080x1080px"},
		},
	}
}

// pool returns the template pool for t.
func (ts Templates) pool(t workflow.NodeType) []ArtifactTemplate {
	if p, ok := ts[t]; ok {
		return p
	}
	return ts[workflow.NodeTypeProcess]
}
