package httpresp

const (
	ErrNoItemsAdded   = "no items were added"
	ErrParserDisabled = "email parser is not configured"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewHealthResponse(status string) HealthResponse {
	return HealthResponse{Status: status}
}
