package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/PabloGalante/farum-voice/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	identity_key TEXT NOT NULL,
	name         TEXT NOT NULL,
	payload      BLOB NOT NULL,
	updated_at   DATETIME NOT NULL,
	PRIMARY KEY (identity_key, name)
);

CREATE TABLE IF NOT EXISTS audio (
	ref          TEXT PRIMARY KEY,
	identity_key TEXT NOT NULL,
	mime_type    TEXT NOT NULL,
	data         BLOB NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audio_identity ON audio(identity_key);
`

const (
	collectionEntries     = "entries"
	collectionPersonas    = "personas"
	collectionEntitlement = "entitlement"
)

// Store keeps each identity-scoped collection as one JSON row, so a save is an atomic
// replacement. Audio payloads live in their own table.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// New opens (or creates) the database at path and applies the schema.
func New(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type collectionRow struct {
	Payload []byte `db:"payload"`
}

// load decodes the stored collection into v. It leaves v untouched when nothing is stored.
func (s *Store) load(ctx context.Context, id domain.Identity, name string, v any) error {
	var row collectionRow
	err := s.db.GetContext(ctx, &row,
		"SELECT payload FROM collections WHERE identity_key = ? AND name = ?",
		id.Key(), name,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	if err := json.Unmarshal(row.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (s *Store) save(ctx context.Context, id domain.Identity, name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO collections (identity_key, name, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (identity_key, name) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		id.Key(), name, payload, s.now(),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

func (s *Store) LoadEntries(ctx context.Context, id domain.Identity) ([]*domain.JournalEntry, error) {
	entries := []*domain.JournalEntry{}
	if err := s.load(ctx, id, collectionEntries, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) SaveEntries(ctx context.Context, id domain.Identity, entries []*domain.JournalEntry) error {
	return s.save(ctx, id, collectionEntries, entries)
}

func (s *Store) LoadPersonas(ctx context.Context, id domain.Identity) ([]*domain.Persona, error) {
	personas := []*domain.Persona{}
	if err := s.load(ctx, id, collectionPersonas, &personas); err != nil {
		return nil, err
	}
	return personas, nil
}

func (s *Store) SavePersonas(ctx context.Context, id domain.Identity, personas []*domain.Persona) error {
	return s.save(ctx, id, collectionPersonas, personas)
}

func (s *Store) LoadEntitlement(ctx context.Context, id domain.Identity) (domain.EntitlementState, error) {
	var state domain.EntitlementState
	if err := s.load(ctx, id, collectionEntitlement, &state); err != nil {
		return domain.EntitlementState{}, err
	}
	return state, nil
}

func (s *Store) SaveEntitlement(ctx context.Context, id domain.Identity, state domain.EntitlementState) error {
	return s.save(ctx, id, collectionEntitlement, state)
}

type audioRow struct {
	MimeType string `db:"mime_type"`
	Data     []byte `db:"data"`
}

func (s *Store) PutAudio(ctx context.Context, id domain.Identity, audio domain.Audio) (domain.AudioRef, error) {
	ref := domain.AudioRef(uuid.NewString())

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO audio (ref, identity_key, mime_type, data, created_at) VALUES (?, ?, ?, ?, ?)",
		string(ref), id.Key(), audio.MimeType, audio.Data, s.now(),
	)
	if err != nil {
		return "", fmt.Errorf("insert audio: %w", err)
	}
	return ref, nil
}

func (s *Store) GetAudio(ctx context.Context, id domain.Identity, ref domain.AudioRef) (domain.Audio, error) {
	var row audioRow
	err := s.db.GetContext(ctx, &row,
		"SELECT mime_type, data FROM audio WHERE ref = ? AND identity_key = ?",
		string(ref), id.Key(),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Audio{}, domain.ErrAudioNotFound
	}
	if err != nil {
		return domain.Audio{}, fmt.Errorf("get audio: %w", err)
	}
	return domain.Audio{Data: row.Data, MimeType: row.MimeType}, nil
}

func (s *Store) DeleteAudio(ctx context.Context, id domain.Identity, ref domain.AudioRef) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM audio WHERE ref = ? AND identity_key = ?",
		string(ref), id.Key(),
	)
	if err != nil {
		return fmt.Errorf("delete audio: %w", err)
	}
	return nil
}
