package httpadapter

import (
	"errors"
	"net/http"

	"github.com/PabloGalante/farum-voice/internal/domain"
)

type errorResponse struct {
	Error  string `json:"error"`
	Stage  string `json:"stage,omitempty"`
	Status int    `json:"status,omitempty"`
}

var errorStatus = []struct {
	err    error
	status int
}{
	{domain.ErrEmptyRecording, http.StatusBadRequest},
	{domain.ErrEmptyPrompt, http.StatusBadRequest},
	{domain.ErrInvalidDuration, http.StatusBadRequest},
	{domain.ErrEntitlementExceeded, http.StatusPaymentRequired},
	{domain.ErrEntryNotFound, http.StatusNotFound},
	{domain.ErrPersonaNotFound, http.StatusNotFound},
	{domain.ErrDraftNotFound, http.StatusNotFound},
	{domain.ErrAudioNotFound, http.StatusNotFound},
	{domain.ErrBuiltInPersona, http.StatusForbidden},
	{domain.ErrInvalidTransition, http.StatusConflict},
	{domain.ErrConversationShrunk, http.StatusConflict},
	{domain.ErrTranscriptionFailed, http.StatusBadGateway},
	{domain.ErrAnalysisFailed, http.StatusBadGateway},
	{domain.ErrAnalysisSchemaInvalid, http.StatusBadGateway},
	{domain.ErrSynthesisFailed, http.StatusBadGateway},
	{domain.ErrPersonaGenerationFailed, http.StatusBadGateway},
	{domain.ErrVoiceGenerationFailed, http.StatusBadGateway},
	{domain.ErrVoiceFinalizationFailed, http.StatusBadGateway},
}

// writeError maps a workflow error to a status code. Stage errors carry their stage and
// the upstream status so clients can tell which call failed.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			status = m.status
			break
		}
	}

	resp := errorResponse{Error: err.Error()}
	var se *domain.StageError
	if errors.As(err, &se) {
		resp.Stage = string(se.Stage)
		resp.Status = se.Status
	}
	if status == http.StatusInternalServerError {
		resp.Error = "internal server error"
	}

	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
}

func conflict(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusConflict, errorResponse{Error: msg})
}
