package model

// Agent is a user-defined chat preset.
type Agent struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Icon           string  `json:"icon"`
	SystemPrompt   string  `json:"systemPrompt,omitempty"`
	Model          *string `json:"model,omitempty"` // Overrides the selected model when set
	ShownInSidebar bool    `json:"shownInSidebar"`
}

// QARecord is one cached image analysis.
type QARecord struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}
