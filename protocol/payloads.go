package protocol

type joinPayload struct {
	Username string `json:"username,omitempty"`
}

type chatPayload struct {
	Username string `json:"username,omitempty"`
	ClientID string `json:"clientId,omitempty"`
	Message  string `json:"message"`
}

type pingPayload struct {
	Timestamp int64  `json:"timestamp"`
	ClientID  string `json:"clientId,omitempty"`
}
