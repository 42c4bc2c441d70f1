package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/joseph-ayodele/ihm-parser/internal/common"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Success: false, Error: message})
}

// pipelineError maps a synchronous pipeline failure to a status and the client message.
func pipelineError(err error) (int, string) {
	status := common.HTTPStatus(err)
	msg := common.PublicMessage(err)
	switch {
	case status != http.StatusInternalServerError:
		return status, msg
	case errors.Is(err, common.ErrUnreadablePDF), errors.Is(err, common.ErrExtractionFailed):
		return status, "Extraction error: " + msg
	case errors.Is(err, common.ErrClassificationFailed):
		return status, "Classification error: " + msg
	default:
		return status, "Internal server error: " + msg
	}
}
