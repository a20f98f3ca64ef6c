package http

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Status  int         `json:"status" example:"200"`
	Message string      `json:"message" example:"OK"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string                 `json:"code,omitempty" example:"ERR_REQUIRED"`
	Field   string                 `json:"field,omitempty" example:"market"`
	Message string                 `json:"message,omitempty" example:"market is required"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// ListDataResponse wraps a list with its length.
type ListDataResponse struct {
	Rows  interface{} `json:"rows"`
	Total int64       `json:"total"`
}
