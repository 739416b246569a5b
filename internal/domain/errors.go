package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// Failure kinds. Every workflow failure matches exactly one of these with errors.Is.
var (
	// ErrEmptyRecording indicates a zero-length audio payload.
	ErrEmptyRecording = errors.New("empty recording")

	// ErrTranscriptionFailed indicates the speech-to-text call failed.
	ErrTranscriptionFailed = errors.New("transcription failed")

	// ErrAnalysisFailed indicates the language-model call itself failed.
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrAnalysisSchemaInvalid indicates the analysis response did not match the schema.
	ErrAnalysisSchemaInvalid = errors.New("analysis response does not match schema")

	// ErrSynthesisFailed indicates the text-to-speech call failed.
	ErrSynthesisFailed = errors.New("speech synthesis failed")

	// ErrEmptyPrompt indicates an empty persona description.
	ErrEmptyPrompt = errors.New("empty persona description")

	// ErrPersonaGenerationFailed indicates persona fields could not be generated.
	ErrPersonaGenerationFailed = errors.New("persona generation failed")

	// ErrVoiceGenerationFailed indicates the preview voice could not be designed.
	ErrVoiceGenerationFailed = errors.New("voice generation failed")

	// ErrVoiceFinalizationFailed indicates the preview voice could not be made permanent.
	ErrVoiceFinalizationFailed = errors.New("voice finalization failed")

	// ErrEntitlementExceeded indicates the free tier is used up. Raised by callers only.
	ErrEntitlementExceeded = errors.New("entitlement exceeded")

	// ErrPersistenceFailed indicates a store read or write failed.
	ErrPersistenceFailed = errors.New("persistence failed")
)

// Lookup errors.
var (
	ErrEntryNotFound   = errors.New("entry not found")
	ErrPersonaNotFound = errors.New("persona not found")
	ErrDraftNotFound   = errors.New("persona draft not found")
	ErrAudioNotFound   = errors.New("audio not found")
)

// Workflow misuse.
var (
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrConversationShrunk = errors.New("conversation turns cannot be removed")
	ErrBuiltInPersona     = errors.New("built-in personas cannot be modified")
	ErrInvalidDuration    = errors.New("premium duration must be positive")
)

// Stage names the workflow step where a failure happened.
type Stage string

const (
	StagePreCheck     Stage = "precheck"
	StageTranscribing Stage = "transcribing"
	StageAnalyzing    Stage = "analyzing"
	StageSynthesizing Stage = "synthesizing"
	StagePersisting   Stage = "persisting"
	StageGenerating   Stage = "generating"
	StageCreating     Stage = "creating"
)

// StageError is the typed failure returned by every workflow.
type StageError struct {
	Stage   Stage
	Kind    error
	Status  int    // upstream status, 0 when unknown
	Message string // upstream or validation message
	Err     error
}

func (e *StageError) Error() string {
	msg := string(e.Stage) + ": " + e.Kind.Error()
	if e.Status != 0 {
		msg += " (status " + strconv.Itoa(e.Status) + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Is(target error) bool {
	return target == e.Kind
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError builds a StageError, lifting upstream status and schema details from err.
func NewStageError(stage Stage, kind error, err error) *StageError {
	se := &StageError{Stage: stage, Kind: kind, Err: err}

	var up *UpstreamError
	var schema *SchemaError
	switch {
	case errors.As(err, &up):
		se.Status = up.Status
		se.Message = up.Message
	case errors.As(err, &schema):
		se.Message = schema.Error()
	}
	return se
}

// UpstreamError carries the status and message of a failed external call verbatim.
type UpstreamError struct {
	Service string
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Service, e.Status, e.Message)
}

// SchemaError reports a model response that violates the expected schema.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return "schema: " + e.Reason
	}
	return "schema: " + e.Field + " " + e.Reason
}

func countReason(n, min, max int) string {
	return fmt.Sprintf("must have %d to %d items, got %d", min, max, n)
}

func fieldAt(name string, i int, sub string) string {
	f := name + "[" + strconv.Itoa(i) + "]"
	if sub != "" {
		f += "." + sub
	}
	return f
}
