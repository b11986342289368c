package llm

// Role names understood by every OpenAI-compatible backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message sent to the backend.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the message text.
	Content string
}

// UserMessage returns a RoleUser message with the given content.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// CompletionRequest carries everything the backend needs for one completion.
type CompletionRequest struct {
	// Messages is the ordered chat. The responder sends a single user message
	// holding the rendered persona prompt.
	Messages []Message

	// Temperature controls sampling randomness. Zero leaves the backend
	// default in place.
	Temperature float64

	// MaxTokens caps the completion length. Zero means backend default.
	MaxTokens int
}

// Usage holds token accounting reported by the backend, when available.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the first choice of a completion.
type CompletionResponse struct {
	// Content is the generated text. Empty when the backend returned no
	// choices or an empty message.
	Content string

	// Model is the model name echoed by the backend, if any.
	Model string

	Usage Usage
}
