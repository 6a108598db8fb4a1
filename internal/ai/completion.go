package ai

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Completion is the non-streaming chat.completion response.
type Completion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
}

func (e *Encoder) Complete(req StreamRequest) Completion {
	return Completion{
		ID:      req.ID,
		Object:  CompletionObject,
		Created: e.now().Unix(),
		Model:   req.Model,
		Choices: []CompletionChoice{{
			Index:        0,
			Message:      ChatMessage{Role: "assistant", Content: req.Text},
			FinishReason: FinishReasonStop,
		}},
	}
}

// LastContent picks the text the fake model answers with: the content of the
// last message.
func LastContent(messages []ChatMessage) string {
	if len(messages) == 0 {
		return ""
	}
	return messages[len(messages)-1].Content
}
