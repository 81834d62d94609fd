package dto

// ErrorDetail is the machine-readable part of an error payload.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorResponse is the JSON body returned for failed buffered requests and
// embedded in terminal `event: error` frames for streaming requests.
type ErrorResponse struct {
	Type      string      `json:"type"` // always "error"
	Error     ErrorDetail `json:"error"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

func NewErrorResponse(code string, message string, timestamp int64) ErrorResponse {
	return ErrorResponse{
		Type:      "error",
		Error:     ErrorDetail{Type: code, Message: message},
		Timestamp: timestamp,
	}
}
