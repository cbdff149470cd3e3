package types

// RunFailure describes why a plan did not finish. Details carries the
// structured context of the failure, such as the moves still outstanding
// or the nodes that reported errors.
type RunFailure struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Plan    string         `json:"plan,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorResponse is the JSON document the CLI prints for a failed run.
type ErrorResponse struct {
	Error RunFailure `json:"error"`
}

func NewErrorResponse(plan, code, message string, details map[string]any) ErrorResponse {
	return ErrorResponse{Error: RunFailure{
		Code:    code,
		Message: message,
		Plan:    plan,
		Details: details,
	}}
}
