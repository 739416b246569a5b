package firestore

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/farum-voice/internal/domain"
	"github.com/PabloGalante/farum-voice/internal/observability"
)

// Store implements the entry, persona, entitlement and audio stores on Firestore.
//
// Layout:
//
//	identities/{key}/entries/{entryID}             one document per entry
//	identities/{key}/state/personas                {items: [...], updated_at}
//	identities/{key}/state/entitlement             {entry_count, premium, premium_expiry}
//	identities/{key}/audio/{ref}                   {mime_type, size, chunks, created_at}
//	identities/{key}/audio/{ref}/chunks/{0000..}   {data}
//
// Firestore caps a document at 1 MiB, so entries get a document each and audio is split
// into chunks. An entry save runs in one transaction and only writes changed entries.
type Store struct {
	client *firestore.Client
	now    func() time.Time
}

// NewStore creates a Firestore store.
// Uses the project passed (FARUM_GCP_PROJECT).
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) identityDoc(id domain.Identity) *firestore.DocumentRef {
	return s.client.Collection("identities").Doc(id.Key())
}

func (s *Store) entriesCol(id domain.Identity) *firestore.CollectionRef {
	return s.identityDoc(id).Collection("entries")
}

func (s *Store) stateDoc(id domain.Identity, name string) *firestore.DocumentRef {
	return s.identityDoc(id).Collection("state").Doc(name)
}

func (s *Store) audioDoc(id domain.Identity, ref domain.AudioRef) *firestore.DocumentRef {
	return s.identityDoc(id).Collection("audio").Doc(string(ref))
}

// get reads a document into v. found is false when the document does not exist.
func get(ctx context.Context, ref *firestore.DocumentRef, v any) (found bool, err error) {
	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, err
	}
	if err := snap.DataTo(v); err != nil {
		return false, fmt.Errorf("decode %s: %w", ref.Path, err)
	}
	return true, nil
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type emotionDoc struct {
	Name  string  `firestore:"name"`
	Score float64 `firestore:"score"`
}

type markerDoc struct {
	Name        string `firestore:"name"`
	Level       string `firestore:"level"`
	Description string `firestore:"description"`
}

type turnDoc struct {
	ID        string    `firestore:"id"`
	Role      string    `firestore:"role"`
	Text      string    `firestore:"text"`
	Audio     string    `firestore:"audio"`
	CreatedAt time.Time `firestore:"created_at"`
}

type entryDoc struct {
	ID            string       `firestore:"id"`
	CreatedAt     time.Time    `firestore:"created_at"`
	Transcript    string       `firestore:"transcript"`
	Summary       string       `firestore:"summary"`
	Emotions      []emotionDoc `firestore:"emotions"`
	Topics        []string     `firestore:"topics"`
	PsychMarkers  []markerDoc  `firestore:"psych_markers"`
	FeedbackText  string       `firestore:"feedback_text"`
	FeedbackAudio string       `firestore:"feedback_audio"`
	Recording     string       `firestore:"recording"`
	VoiceID       string       `firestore:"voice_id"`
	PersonaID     string       `firestore:"persona_id"`
	PersonaName   string       `firestore:"persona_name"`
	Conversation  []turnDoc    `firestore:"conversation"`
}

type personaDoc struct {
	ID            string    `firestore:"id"`
	Name          string    `firestore:"name"`
	Personality   string    `firestore:"personality"`
	Instruction   string    `firestore:"instruction"`
	FeedbackStyle string    `firestore:"feedback_style"`
	VoiceID       string    `firestore:"voice_id"`
	CreatedAt     time.Time `firestore:"created_at"`
	Custom        bool      `firestore:"custom"`
}

type personasDoc struct {
	Items     []personaDoc `firestore:"items"`
	UpdatedAt time.Time    `firestore:"updated_at"`
}

type entitlementDoc struct {
	EntryCount    int       `firestore:"entry_count"`
	Premium       bool      `firestore:"premium"`
	PremiumExpiry time.Time `firestore:"premium_expiry"`
}

type audioDoc struct {
	MimeType  string    `firestore:"mime_type"`
	Size      int       `firestore:"size"`
	Chunks    int       `firestore:"chunks"`
	CreatedAt time.Time `firestore:"created_at"`
}

type chunkDoc struct {
	Data []byte `firestore:"data"`
}

// ─────────────────────────────────────────
// EntryStore implementation
// ─────────────────────────────────────────

func (s *Store) LoadEntries(ctx context.Context, id domain.Identity) ([]*domain.JournalEntry, error) {
	iter := s.entriesCol(id).OrderBy("created_at", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []*domain.JournalEntry
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore LoadEntries: %w", err)
		}

		var d entryDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, fmt.Errorf("firestore LoadEntries decode %s: %w", snap.Ref.ID, err)
		}
		out = append(out, fromEntryDoc(d))
	}
	return out, nil
}

// SaveEntries makes the entries collection match entries: changed entries are set,
// missing ones deleted, all in one transaction.
func (s *Store) SaveEntries(ctx context.Context, id domain.Identity, entries []*domain.JournalEntry) error {
	col := s.entriesCol(id)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing := make(map[string]entryDoc)
		iter := tx.Documents(col)
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return err
			}
			var d entryDoc
			if err := snap.DataTo(&d); err != nil {
				return fmt.Errorf("decode %s: %w", snap.Ref.ID, err)
			}
			existing[snap.Ref.ID] = d
		}

		keep := make(map[string]bool, len(entries))
		for _, e := range entries {
			d := toEntryDoc(e)
			keep[d.ID] = true
			if old, ok := existing[d.ID]; ok && sameEntry(old, d) {
				continue
			}
			if err := tx.Set(col.Doc(d.ID), d); err != nil {
				return err
			}
		}
		for docID := range existing {
			if keep[docID] {
				continue
			}
			if err := tx.Delete(col.Doc(docID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("firestore SaveEntries: %w", err)
	}
	return nil
}

// sameEntry compares a stored entry with a new one. Firestore keeps microseconds in UTC
// and reads empty arrays back as empty slices.
func sameEntry(stored, next entryDoc) bool {
	return reflect.DeepEqual(normalizeEntryDoc(stored), normalizeEntryDoc(next))
}

func normalizeEntryDoc(d entryDoc) entryDoc {
	d.CreatedAt = storedTime(d.CreatedAt)
	if len(d.Emotions) == 0 {
		d.Emotions = nil
	}
	if len(d.Topics) == 0 {
		d.Topics = nil
	}
	if len(d.PsychMarkers) == 0 {
		d.PsychMarkers = nil
	}
	if len(d.Conversation) == 0 {
		d.Conversation = nil
	} else {
		turns := make([]turnDoc, len(d.Conversation))
		for i, t := range d.Conversation {
			t.CreatedAt = storedTime(t.CreatedAt)
			turns[i] = t
		}
		d.Conversation = turns
	}
	return d
}

func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func toEntryDoc(e *domain.JournalEntry) entryDoc {
	d := entryDoc{
		ID:            string(e.ID),
		CreatedAt:     e.CreatedAt,
		Transcript:    e.Transcript,
		Summary:       e.Summary,
		Topics:        e.Topics,
		FeedbackText:  e.FeedbackText,
		FeedbackAudio: string(e.FeedbackAudio),
		Recording:     string(e.Recording),
		VoiceID:       string(e.VoiceID),
		PersonaID:     string(e.PersonaID),
		PersonaName:   e.PersonaName,
	}
	for _, em := range e.Emotions {
		d.Emotions = append(d.Emotions, emotionDoc{Name: em.Name, Score: em.Score})
	}
	for _, m := range e.PsychMarkers {
		d.PsychMarkers = append(d.PsychMarkers, markerDoc{Name: m.Name, Level: string(m.Level), Description: m.Description})
	}
	for _, t := range e.Conversation {
		d.Conversation = append(d.Conversation, turnDoc{
			ID:        string(t.ID),
			Role:      string(t.Role),
			Text:      t.Text,
			Audio:     string(t.Audio),
			CreatedAt: t.CreatedAt,
		})
	}
	return d
}

func fromEntryDoc(d entryDoc) *domain.JournalEntry {
	e := &domain.JournalEntry{
		ID:            domain.EntryID(d.ID),
		CreatedAt:     d.CreatedAt,
		Transcript:    d.Transcript,
		Summary:       d.Summary,
		Topics:        d.Topics,
		FeedbackText:  d.FeedbackText,
		FeedbackAudio: domain.AudioRef(d.FeedbackAudio),
		Recording:     domain.AudioRef(d.Recording),
		VoiceID:       domain.VoiceID(d.VoiceID),
		PersonaID:     domain.PersonaID(d.PersonaID),
		PersonaName:   d.PersonaName,
	}
	for _, em := range d.Emotions {
		e.Emotions = append(e.Emotions, domain.Emotion{Name: em.Name, Score: em.Score})
	}
	for _, m := range d.PsychMarkers {
		e.PsychMarkers = append(e.PsychMarkers, domain.PsychMarker{
			Name:        m.Name,
			Level:       domain.MarkerLevel(m.Level),
			Description: m.Description,
		})
	}
	for _, t := range d.Conversation {
		e.Conversation = append(e.Conversation, domain.ConversationTurn{
			ID:        domain.TurnID(t.ID),
			Role:      domain.Role(t.Role),
			Text:      t.Text,
			Audio:     domain.AudioRef(t.Audio),
			CreatedAt: t.CreatedAt,
		})
	}
	return e
}

// ─────────────────────────────────────────
// PersonaStore implementation
// ─────────────────────────────────────────

func (s *Store) LoadPersonas(ctx context.Context, id domain.Identity) ([]*domain.Persona, error) {
	var doc personasDoc
	if _, err := get(ctx, s.stateDoc(id, "personas"), &doc); err != nil {
		return nil, fmt.Errorf("firestore LoadPersonas: %w", err)
	}

	out := make([]*domain.Persona, 0, len(doc.Items))
	for _, d := range doc.Items {
		out = append(out, &domain.Persona{
			ID:            domain.PersonaID(d.ID),
			Name:          d.Name,
			Personality:   d.Personality,
			Instruction:   d.Instruction,
			FeedbackStyle: d.FeedbackStyle,
			VoiceID:       domain.VoiceID(d.VoiceID),
			CreatedAt:     d.CreatedAt,
			Custom:        d.Custom,
		})
	}
	return out, nil
}

func (s *Store) SavePersonas(ctx context.Context, id domain.Identity, personas []*domain.Persona) error {
	doc := personasDoc{
		Items:     make([]personaDoc, 0, len(personas)),
		UpdatedAt: s.now(),
	}
	for _, p := range personas {
		doc.Items = append(doc.Items, personaDoc{
			ID:            string(p.ID),
			Name:          p.Name,
			Personality:   p.Personality,
			Instruction:   p.Instruction,
			FeedbackStyle: p.FeedbackStyle,
			VoiceID:       string(p.VoiceID),
			CreatedAt:     p.CreatedAt,
			Custom:        p.Custom,
		})
	}

	if _, err := s.stateDoc(id, "personas").Set(ctx, doc); err != nil {
		return fmt.Errorf("firestore SavePersonas: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────
// EntitlementStore implementation
// ─────────────────────────────────────────

func (s *Store) LoadEntitlement(ctx context.Context, id domain.Identity) (domain.EntitlementState, error) {
	var doc entitlementDoc
	if _, err := get(ctx, s.stateDoc(id, "entitlement"), &doc); err != nil {
		return domain.EntitlementState{}, fmt.Errorf("firestore LoadEntitlement: %w", err)
	}
	return domain.EntitlementState{
		EntryCount:    doc.EntryCount,
		Premium:       doc.Premium,
		PremiumExpiry: doc.PremiumExpiry,
	}, nil
}

func (s *Store) SaveEntitlement(ctx context.Context, id domain.Identity, state domain.EntitlementState) error {
	doc := entitlementDoc{
		EntryCount:    state.EntryCount,
		Premium:       state.Premium,
		PremiumExpiry: state.PremiumExpiry,
	}
	if _, err := s.stateDoc(id, "entitlement").Set(ctx, doc); err != nil {
		return fmt.Errorf("firestore SaveEntitlement: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────
// AudioStore implementation
// ─────────────────────────────────────────

// audioChunkSize keeps each chunk document well under the 1 MiB document cap.
const audioChunkSize = 768 << 10

func (s *Store) audioChunk(id domain.Identity, ref domain.AudioRef, i int) *firestore.DocumentRef {
	return s.audioDoc(id, ref).Collection("chunks").Doc(fmt.Sprintf("%04d", i))
}

// splitChunks cuts data into pieces of at most size bytes.
func splitChunks(data []byte, size int) [][]byte {
	var chunks [][]byte
	for len(data) > size {
		chunks = append(chunks, data[:size])
		data = data[size:]
	}
	if len(data) > 0 {
		chunks = append(chunks, data)
	}
	return chunks
}

// PutAudio writes the chunks first and the metadata document last; audio without
// metadata is never returned by GetAudio.
func (s *Store) PutAudio(ctx context.Context, id domain.Identity, audio domain.Audio) (domain.AudioRef, error) {
	ref := domain.AudioRef(uuid.NewString())
	chunks := splitChunks(audio.Data, audioChunkSize)

	for i, c := range chunks {
		if _, err := s.audioChunk(id, ref, i).Create(ctx, chunkDoc{Data: c}); err != nil {
			s.deleteChunks(ctx, id, ref, i)
			return "", fmt.Errorf("firestore PutAudio chunk %d: %w", i, err)
		}
	}

	doc := audioDoc{
		MimeType:  audio.MimeType,
		Size:      len(audio.Data),
		Chunks:    len(chunks),
		CreatedAt: s.now(),
	}
	if _, err := s.audioDoc(id, ref).Create(ctx, doc); err != nil {
		s.deleteChunks(ctx, id, ref, len(chunks))
		return "", fmt.Errorf("firestore PutAudio: %w", err)
	}
	return ref, nil
}

func (s *Store) GetAudio(ctx context.Context, id domain.Identity, ref domain.AudioRef) (domain.Audio, error) {
	var doc audioDoc
	found, err := get(ctx, s.audioDoc(id, ref), &doc)
	if err != nil {
		return domain.Audio{}, fmt.Errorf("firestore GetAudio: %w", err)
	}
	if !found {
		return domain.Audio{}, domain.ErrAudioNotFound
	}
	if doc.Chunks == 0 {
		return domain.Audio{MimeType: doc.MimeType}, nil
	}

	refs := make([]*firestore.DocumentRef, doc.Chunks)
	for i := range refs {
		refs[i] = s.audioChunk(id, ref, i)
	}
	snaps, err := s.client.GetAll(ctx, refs)
	if err != nil {
		return domain.Audio{}, fmt.Errorf("firestore GetAudio chunks: %w", err)
	}

	data := make([]byte, 0, doc.Size)
	for i, snap := range snaps {
		if !snap.Exists() {
			return domain.Audio{}, fmt.Errorf("firestore GetAudio: chunk %d of %s missing", i, ref)
		}
		var c chunkDoc
		if err := snap.DataTo(&c); err != nil {
			return domain.Audio{}, fmt.Errorf("firestore GetAudio chunk %d: %w", i, err)
		}
		data = append(data, c.Data...)
	}
	return domain.Audio{Data: data, MimeType: doc.MimeType}, nil
}

// DeleteAudio removes the metadata first so readers stop seeing the audio before its
// chunks go away.
func (s *Store) DeleteAudio(ctx context.Context, id domain.Identity, ref domain.AudioRef) error {
	var doc audioDoc
	found, err := get(ctx, s.audioDoc(id, ref), &doc)
	if err != nil {
		return fmt.Errorf("firestore DeleteAudio: %w", err)
	}
	if !found {
		return nil
	}
	if _, err := s.audioDoc(id, ref).Delete(ctx); err != nil {
		return fmt.Errorf("firestore DeleteAudio: %w", err)
	}
	s.deleteChunks(ctx, id, ref, doc.Chunks)
	return nil
}

// deleteChunks removes chunks [0, n). Failures leave unreachable chunks behind and
// are only logged.
func (s *Store) deleteChunks(ctx context.Context, id domain.Identity, ref domain.AudioRef, n int) {
	for i := 0; i < n; i++ {
		if _, err := s.audioChunk(id, ref, i).Delete(ctx); err != nil {
			observability.LoggerFromContext(ctx).Warn("failed to delete audio chunk",
				"audio_ref", ref,
				"chunk", i,
				"error", err,
			)
		}
	}
}
