package models

// ErrorResponse is the body of every non-2xx reply that is not an action result
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}
