package request

// AskRequest is the body of both the streaming and non-streaming ask routes.
// The user id comes from the JWT, never from the body.
type AskRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Question  string `json:"question" binding:"required"`
	TopK      int    `json:"top_k"`
}
