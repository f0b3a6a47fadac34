package terminal

// inbound is a client frame, discriminated by Type. Unused fields stay zero.
type inbound struct {
	Type     string `json:"type"`
	ServerID string `json:"serverId,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Cols     int    `json:"cols,omitempty"`
	Rows     int    `json:"rows,omitempty"`
	Data     string `json:"data,omitempty"`
	Partial  string `json:"partial,omitempty"`
	Question string `json:"question,omitempty"`
}

// outbound is a server frame.
type outbound struct {
	Type        string   `json:"type"`
	SessionID   string   `json:"sessionId,omitempty"`
	Message     string   `json:"message,omitempty"`
	Data        string   `json:"data,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Source      string   `json:"source,omitempty"`
	Response    string   `json:"response,omitempty"`
	Cols        int      `json:"cols,omitempty"`
	Rows        int      `json:"rows,omitempty"`
}

const (
	msgConnect    = "connect"
	msgInput      = "input"
	msgResize     = "resize"
	msgSuggest    = "suggest"
	msgAIHelp     = "ai-help"
	msgDisconnect = "disconnect"

	msgConnected    = "connected"
	msgOutput       = "output"
	msgDisconnected = "disconnected"
	msgError        = "error"
	msgSuggestions  = "suggestions"
	msgAIResponse   = "ai-response"
	msgResized      = "resized"

	sourceLocal = "local"
	sourceAI    = "ai"
)
