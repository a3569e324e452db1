package core

import "net/http"

// ErrorBody is the envelope returned for failed API requests.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Kind    string `json:"kind"    example:"validation_error"`
	Message string `json:"message" example:"query is required"`
}

// Problem captures the information needed to render an error response.
type Problem struct {
	Status  int
	Kind    ErrorKind
	Message string
	Extras  map[string]any
}

// NormalizeProblem ensures the provided problem includes canonical defaults.
func NormalizeProblem(problem *Problem) *Problem {
	if problem == nil {
		problem = &Problem{}
	}
	if problem.Status == 0 {
		problem.Status = http.StatusInternalServerError
	}
	if problem.Kind == "" {
		problem.Kind = KindInternal
	}
	if problem.Message == "" {
		problem.Message = http.StatusText(problem.Status)
	}
	return problem
}

// BuildProblemBody assembles the serialized representation of the problem.
// Extras are merged into the error object without replacing kind or message.
func BuildProblemBody(problem *Problem) map[string]any {
	detail := map[string]any{
		"kind":    string(problem.Kind),
		"message": problem.Message,
	}
	for key, value := range problem.Extras {
		if key == "kind" || key == "message" {
			continue
		}
		detail[key] = value
	}
	return map[string]any{"error": detail}
}
