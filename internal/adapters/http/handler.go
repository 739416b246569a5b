package httpadapter

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PabloGalante/farum-voice/internal/app/conversation"
	"github.com/PabloGalante/farum-voice/internal/app/entitlement"
	"github.com/PabloGalante/farum-voice/internal/app/insight"
	"github.com/PabloGalante/farum-voice/internal/app/journal"
	"github.com/PabloGalante/farum-voice/internal/app/persona"
	"github.com/PabloGalante/farum-voice/internal/domain"
)

const maxAudioBytes = 25 << 20

// Services is everything the HTTP surface calls into.
type Services struct {
	Pipeline     *insight.Pipeline
	Conversation *conversation.Service
	Journal      *journal.Service
	Personas     *persona.Registry
	Gate         *entitlement.Gate
	Audio        domain.AudioStore
	// NewWorkflow starts a persona creation workflow for one draft.
	NewWorkflow func() *persona.Workflow
	// Auth is optional; without it every caller is the guest identity.
	Auth *Authenticator
}

type Server struct {
	pipeline     *insight.Pipeline
	conversation *conversation.Service
	journal      *journal.Service
	personas     *persona.Registry
	gate         *entitlement.Gate
	audio        domain.AudioStore
	newWorkflow  func() *persona.Workflow
	auth         *Authenticator

	flights *inflight
	drafts  *draftStore
}

func NewServer(svc Services) http.Handler {
	s := &Server{
		pipeline:     svc.Pipeline,
		conversation: svc.Conversation,
		journal:      svc.Journal,
		personas:     svc.Personas,
		gate:         svc.Gate,
		audio:        svc.Audio,
		newWorkflow:  svc.NewWorkflow,
		auth:         svc.Auth,
		flights:      newInflight(),
		drafts:       newDraftStore(),
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)

	// /entries            → GET: list, POST: record a new entry
	// /entries/{id}       → GET, DELETE
	// /entries/{id}/turns → GET: timeline, POST: reply to the entry
	mux.HandleFunc("/entries", s.handleEntries)
	mux.HandleFunc("/entries/", s.handleEntryWithID)

	// /personas                       → GET: built-in and custom personas
	// /personas/{id}                  → DELETE: custom persona
	// /personas/drafts                → POST: generate a preview
	// /personas/drafts/{id}           → GET, DELETE
	// /personas/drafts/{id}/confirm   → POST
	// /personas/drafts/{id}/regenerate → POST
	mux.HandleFunc("/personas", s.handlePersonas)
	mux.HandleFunc("/personas/", s.handlePersonaWithID)

	mux.HandleFunc("/entitlement", s.handleEntitlement)
	mux.HandleFunc("/entitlement/premium", s.handlePremium)

	mux.HandleFunc("/audio/", s.handleAudio)

	return chainMiddlewares(mux, withLogging, s.withIdentity, withRequestID, withCORS)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type turnResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	AudioURL  string    `json:"audio_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type entryResponse struct {
	ID               string               `json:"id"`
	CreatedAt        time.Time            `json:"created_at"`
	Transcript       string               `json:"transcript"`
	Summary          string               `json:"summary"`
	Emotions         []domain.Emotion     `json:"emotions"`
	Topics           []string             `json:"topics"`
	PsychMarkers     []domain.PsychMarker `json:"psych_markers"`
	FeedbackText     string               `json:"feedback_text"`
	FeedbackAudioURL string               `json:"feedback_audio_url,omitempty"`
	RecordingURL     string               `json:"recording_url,omitempty"`
	VoiceID          string               `json:"voice_id"`
	PersonaID        string               `json:"persona_id,omitempty"`
	PersonaName      string               `json:"persona_name,omitempty"`
	Conversation     []turnResponse       `json:"conversation"`
}

type appendTurnResponse struct {
	Entry         entryResponse `json:"entry"`
	UserTurn      turnResponse  `json:"user_turn"`
	AssistantTurn turnResponse  `json:"assistant_turn"`
}

type personaResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Personality   string    `json:"personality"`
	FeedbackStyle string    `json:"feedback_style"`
	VoiceID       string    `json:"voice_id"`
	Custom        bool      `json:"custom"`
	CreatedAt     time.Time `json:"created_at,omitzero"`
}

type createDraftRequest struct {
	Description string `json:"description"`
}

type confirmDraftRequest struct {
	Name string `json:"name,omitempty"`
}

type draftResponse struct {
	ID             string `json:"id"`
	State          string `json:"state"`
	Name           string `json:"name,omitempty"`
	Personality    string `json:"personality,omitempty"`
	Instruction    string `json:"instruction,omitempty"`
	FeedbackStyle  string `json:"feedback_style,omitempty"`
	PreviewVoiceID string `json:"preview_voice_id,omitempty"`
	PreviewAudio   string `json:"preview_audio,omitempty"` // base64
	PreviewMime    string `json:"preview_mime_type,omitempty"`
}

type entitlementResponse struct {
	EntryCount    int        `json:"entry_count"`
	Limit         int        `json:"limit"`
	Premium       bool       `json:"premium"`
	PremiumExpiry *time.Time `json:"premium_expiry,omitempty"`
	Remaining     int        `json:"remaining"`
	Unbounded     bool       `json:"unbounded"`
	CanCreate     bool       `json:"can_create"`
}

type activatePremiumRequest struct {
	Months int `json:"months"`
}

// ─────────────────────────────────────────────
// Basic routing
// ─────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// /entries
func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListEntries(w, r)
	case http.MethodPost:
		s.handleCreateEntry(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /entries/{id} or /entries/{id}/turns
func (s *Server) handleEntryWithID(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/entries/")
	if len(parts) == 0 {
		http.NotFound(w, r)
		return
	}
	id := domain.EntryID(parts[0])

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			s.handleGetEntry(w, r, id)
		case http.MethodDelete:
			s.handleDeleteEntry(w, r, id)
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 2 && parts[1] == "turns":
		switch r.Method {
		case http.MethodGet:
			s.handleTimeline(w, r, id)
		case http.MethodPost:
			s.handleAppendTurn(w, r, id)
		default:
			methodNotAllowed(w)
		}

	default:
		http.NotFound(w, r)
	}
}

// /personas
func (s *Server) handlePersonas(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListPersonas(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /personas/{id} or /personas/drafts[/{id}[/confirm|/regenerate]]
func (s *Server) handlePersonaWithID(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/personas/")
	if len(parts) == 0 {
		http.NotFound(w, r)
		return
	}

	if parts[0] != "drafts" {
		if len(parts) != 1 {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		s.handleDeletePersona(w, r, domain.PersonaID(parts[0]))
		return
	}

	switch len(parts) {
	case 1:
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleCreateDraft(w, r)

	case 2:
		switch r.Method {
		case http.MethodGet:
			s.handleGetDraft(w, r, parts[1])
		case http.MethodDelete:
			s.handleDiscardDraft(w, r, parts[1])
		default:
			methodNotAllowed(w)
		}

	case 3:
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		switch parts[2] {
		case "confirm":
			s.handleConfirmDraft(w, r, parts[1])
		case "regenerate":
			s.handleRegenerateDraft(w, r, parts[1])
		default:
			http.NotFound(w, r)
		}

	default:
		http.NotFound(w, r)
	}
}

// /entitlement
func (s *Server) handleEntitlement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.writeEntitlement(w, r, http.StatusOK)
}

// /entitlement/premium
func (s *Server) handlePremium(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req activatePremiumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	if _, err := s.gate.ActivatePremium(r.Context(), identityFrom(r.Context()), req.Months); err != nil {
		writeError(w, err)
		return
	}
	s.writeEntitlement(w, r, http.StatusOK)
}

// /audio/{ref}
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	parts := splitPath(r.URL.Path, "/audio/")
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}

	audio, err := s.audio.GetAudio(r.Context(), identityFrom(r.Context()), domain.AudioRef(parts[0]))
	if err != nil {
		writeError(w, err)
		return
	}

	mime := audio.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio.Data)
}

// ─────────────────────────────────────────────
// Entry handlers
// ─────────────────────────────────────────────

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := s.journal.List(r.Context(), identityFrom(r.Context()), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCreateEntry takes the raw recording as the body. The voice is chosen with
// ?voice=<built-in voice id> or ?persona=<custom persona id>.
func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := identityFrom(ctx)

	sel, err := parseSelection(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	audio, err := readAudio(w, r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	release, ok := s.flights.acquire("create:" + id.Key())
	if !ok {
		conflict(w, "an entry is already being processed")
		return
	}
	defer release()

	// The pipeline never checks entitlement. The gate is consulted while holding the
	// identity's create flight, so no other create can spend the same free slot.
	if err := s.gate.Check(ctx, id); err != nil {
		writeError(w, err)
		return
	}

	entry, err := s.pipeline.Process(ctx, insight.ProcessInput{
		Identity:  id,
		Audio:     audio,
		Selection: sel,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request, id domain.EntryID) {
	entry, err := s.journal.Get(r.Context(), identityFrom(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(entry))
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request, id domain.EntryID) {
	if err := s.journal.Delete(r.Context(), identityFrom(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request, id domain.EntryID) {
	turns, err := s.conversation.Timeline(r.Context(), identityFrom(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTurnsResponse(turns))
}

func (s *Server) handleAppendTurn(w http.ResponseWriter, r *http.Request, entryID domain.EntryID) {
	ctx := r.Context()
	id := identityFrom(ctx)

	audio, err := readAudio(w, r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	release, ok := s.flights.acquire("entry:" + id.Key() + ":" + string(entryID))
	if !ok {
		conflict(w, "a reply to this entry is already being processed")
		return
	}
	defer release()

	out, err := s.conversation.AppendTurn(ctx, conversation.AppendTurnInput{
		Identity: id,
		EntryID:  entryID,
		Audio:    audio,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, appendTurnResponse{
		Entry:         toEntryResponse(out.Entry),
		UserTurn:      toTurnResponse(out.UserTurn),
		AssistantTurn: toTurnResponse(out.AssistantTurn),
	})
}

// ─────────────────────────────────────────────
// Persona handlers
// ─────────────────────────────────────────────

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	personas, err := s.personas.List(r.Context(), identityFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]personaResponse, 0, len(personas))
	for _, p := range personas {
		out = append(out, toPersonaResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeletePersona(w http.ResponseWriter, r *http.Request, id domain.PersonaID) {
	if err := s.personas.Delete(r.Context(), identityFrom(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var req createDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	wf := s.newWorkflow()
	if _, err := wf.Generate(r.Context(), req.Description); err != nil {
		writeError(w, err)
		return
	}

	key := s.drafts.put(identityFrom(r.Context()), wf)
	writeJSON(w, http.StatusCreated, toDraftResponse(key, wf))
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request, key string) {
	wf, err := s.drafts.get(identityFrom(r.Context()), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponse(key, wf))
}

func (s *Server) handleRegenerateDraft(w http.ResponseWriter, r *http.Request, key string) {
	var req createDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	wf, err := s.drafts.get(identityFrom(r.Context()), key)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := wf.Regenerate(); err != nil {
		writeError(w, err)
		return
	}
	if _, err := wf.Generate(r.Context(), req.Description); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponse(key, wf))
}

func (s *Server) handleConfirmDraft(w http.ResponseWriter, r *http.Request, key string) {
	var req confirmDraftRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(w, "invalid JSON body")
			return
		}
	}

	id := identityFrom(r.Context())
	wf, err := s.drafts.get(id, key)
	if err != nil {
		writeError(w, err)
		return
	}

	p, err := wf.Confirm(r.Context(), id, req.Name)
	if err != nil {
		// The preview is kept, so the same draft can be confirmed again.
		writeError(w, err)
		return
	}

	_ = s.drafts.remove(id, key)
	writeJSON(w, http.StatusCreated, toPersonaResponse(p))
}

func (s *Server) handleDiscardDraft(w http.ResponseWriter, r *http.Request, key string) {
	id := identityFrom(r.Context())
	wf, err := s.drafts.get(id, key)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := wf.Regenerate(); err != nil {
		writeError(w, err)
		return
	}
	_ = s.drafts.remove(id, key)
	w.WriteHeader(http.StatusNoContent)
}

// ─────────────────────────────────────────────
// Entitlement helpers
// ─────────────────────────────────────────────

func (s *Server) writeEntitlement(w http.ResponseWriter, r *http.Request, status int) {
	ctx := r.Context()
	id := identityFrom(ctx)

	st, err := s.gate.State(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	rem, err := s.gate.Remaining(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := entitlementResponse{
		EntryCount: st.EntryCount,
		Limit:      s.gate.Limit(),
		Premium:    st.Premium,
		Remaining:  rem.Count,
		Unbounded:  rem.Unbounded,
		CanCreate:  rem.Unbounded || rem.Count > 0,
	}
	if st.Premium {
		exp := st.PremiumExpiry
		resp.PremiumExpiry = &exp
	}
	writeJSON(w, status, resp)
}

// ─────────────────────────────────────────────
// Conversion helpers
// ─────────────────────────────────────────────

func toEntryResponse(e *domain.JournalEntry) entryResponse {
	return entryResponse{
		ID:               string(e.ID),
		CreatedAt:        e.CreatedAt,
		Transcript:       e.Transcript,
		Summary:          e.Summary,
		Emotions:         e.Emotions,
		Topics:           e.Topics,
		PsychMarkers:     e.PsychMarkers,
		FeedbackText:     e.FeedbackText,
		FeedbackAudioURL: audioURL(e.FeedbackAudio),
		RecordingURL:     audioURL(e.Recording),
		VoiceID:          string(e.VoiceID),
		PersonaID:        string(e.PersonaID),
		PersonaName:      e.PersonaName,
		Conversation:     toTurnsResponse(e.Conversation),
	}
}

func toTurnResponse(t domain.ConversationTurn) turnResponse {
	return turnResponse{
		ID:        string(t.ID),
		Role:      string(t.Role),
		Text:      t.Text,
		AudioURL:  audioURL(t.Audio),
		CreatedAt: t.CreatedAt,
	}
}

func toTurnsResponse(turns []domain.ConversationTurn) []turnResponse {
	out := make([]turnResponse, 0, len(turns))
	for _, t := range turns {
		out = append(out, toTurnResponse(t))
	}
	return out
}

func toPersonaResponse(p domain.Persona) personaResponse {
	return personaResponse{
		ID:            string(p.ID),
		Name:          p.Name,
		Personality:   p.Personality,
		FeedbackStyle: p.FeedbackStyle,
		VoiceID:       string(p.VoiceID),
		Custom:        p.Custom,
		CreatedAt:     p.CreatedAt,
	}
}

func toDraftResponse(key string, wf *persona.Workflow) draftResponse {
	resp := draftResponse{ID: key, State: wf.State().String()}
	if p, ok := wf.Preview(); ok {
		resp.Name = p.Draft.Name
		resp.Personality = p.Draft.Personality
		resp.Instruction = p.Draft.Instruction
		resp.FeedbackStyle = p.Draft.FeedbackStyle
		resp.PreviewVoiceID = string(p.Voice.VoiceID)
		resp.PreviewAudio = base64.StdEncoding.EncodeToString(p.Voice.Audio.Data)
		resp.PreviewMime = p.Voice.Audio.MimeType
	}
	return resp
}

func audioURL(ref domain.AudioRef) string {
	if ref == "" {
		return ""
	}
	return "/audio/" + string(ref)
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func parseSelection(r *http.Request) (domain.VoiceSelection, error) {
	q := r.URL.Query()
	voice := strings.TrimSpace(q.Get("voice"))
	personaID := strings.TrimSpace(q.Get("persona"))

	switch {
	case voice != "" && personaID != "":
		return domain.VoiceSelection{}, errors.New("use either voice or persona, not both")
	case personaID != "":
		return domain.Custom(domain.PersonaID(personaID)), nil
	case voice != "":
		return domain.BuiltIn(domain.VoiceID(voice)), nil
	}
	return domain.BuiltIn(persona.DefaultVoice()), nil
}

func readAudio(w http.ResponseWriter, r *http.Request) (domain.Audio, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBytes))
	if err != nil {
		return domain.Audio{}, errors.New("could not read audio body")
	}

	mime := r.Header.Get("Content-Type")
	if mime == "" {
		mime = "audio/webm"
	}
	return domain.Audio{Data: data, MimeType: mime}, nil
}

func splitPath(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
