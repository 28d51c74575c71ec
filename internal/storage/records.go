package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// UpsertMessage inserts a message or updates its text. Changing the text of an
// existing message drops its embedding so it is re-embedded on the next pass.
func (s *Store) UpsertMessage(ctx context.Context, m Message) error {
	if m.ID == "" {
		return fmt.Errorf("message id is required")
	}
	var createdAt sql.NullString
	if m.CreatedAt != nil {
		createdAt = sql.NullString{String: formatTime(*m.CreatedAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, text, created_at, imported_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			embedding = CASE WHEN messages.text = excluded.text THEN messages.embedding ELSE NULL END,
			embedding_dim = CASE WHEN messages.text = excluded.text THEN messages.embedding_dim ELSE NULL END,
			text = excluded.text,
			created_at = excluded.created_at,
			imported_at = excluded.imported_at`,
		m.ID, m.Text, createdAt, formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("upserting message %s: %w", m.ID, err)
	}
	return nil
}

// UpsertFAQ inserts an FAQ keyed by its question, updating the answer when the
// question already exists. Returns the stored FAQ id.
func (s *Store) UpsertFAQ(ctx context.Context, f FAQ) (string, error) {
	id := f.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO faqs (id, question, answer, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(question) DO UPDATE SET
			answer = excluded.answer,
			updated_at = excluded.updated_at`,
		id, f.Question, f.Answer, formatTime(s.now()),
	)
	if err != nil {
		return "", fmt.Errorf("upserting faq %q: %w", f.Question, err)
	}

	var stored string
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM faqs WHERE question = ?`, f.Question).Scan(&stored); err != nil {
		return "", fmt.Errorf("reading faq id: %w", err)
	}
	return stored, nil
}

// SetMessageEmbedding stores the embedding vector for a message.
func (s *Store) SetMessageEmbedding(ctx context.Context, id string, vec []float32) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET embedding = ?, embedding_dim = ? WHERE id = ?`,
		encodeFloat32s(vec), len(vec), id)
	if err != nil {
		return fmt.Errorf("storing embedding for message %s: %w", id, err)
	}
	return expectOneRow(res)
}

// SetFAQEmbedding stores the embedding vector for an FAQ.
func (s *Store) SetFAQEmbedding(ctx context.Context, id string, vec []float32) error {
	res, err := s.db.ExecContext(ctx, `UPDATE faqs SET embedding = ?, embedding_dim = ? WHERE id = ?`,
		encodeFloat32s(vec), len(vec), id)
	if err != nil {
		return fmt.Errorf("storing embedding for faq %s: %w", id, err)
	}
	return expectOneRow(res)
}

// ListMessagesMissingEmbedding returns up to limit messages without an
// embedding in arrival order. limit <= 0 means no limit.
func (s *Store) ListMessagesMissingEmbedding(ctx context.Context, limit int) ([]Message, error) {
	return s.queryMessages(ctx, `WHERE embedding IS NULL`, limit)
}

// ListEmbeddedMessages returns every message that has an embedding, in arrival order.
func (s *Store) ListEmbeddedMessages(ctx context.Context) ([]Message, error) {
	return s.queryMessages(ctx, `WHERE embedding IS NOT NULL`, 0)
}

func (s *Store) queryMessages(ctx context.Context, where string, limit int) ([]Message, error) {
	query := `SELECT id, text, created_at, embedding, imported_at FROM messages ` + where + ` ORDER BY rowid ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var createdAt sql.NullString
		var blob []byte
		var importedAt string
		if err := rows.Scan(&m.ID, &m.Text, &createdAt, &blob, &importedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if createdAt.Valid {
			t, err := parseTime(createdAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing created_at for message %s: %w", m.ID, err)
			}
			m.CreatedAt = &t
		}
		if m.ImportedAt, err = parseTime(importedAt); err != nil {
			return nil, fmt.Errorf("parsing imported_at for message %s: %w", m.ID, err)
		}
		if m.Embedding, err = decodeFloat32s(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for message %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListFAQsMissingEmbedding returns FAQs without an embedding in insertion order.
func (s *Store) ListFAQsMissingEmbedding(ctx context.Context) ([]FAQ, error) {
	return s.queryFAQs(ctx, `WHERE embedding IS NULL`)
}

// ListEmbeddedFAQs returns every FAQ that has an embedding, in insertion order.
func (s *Store) ListEmbeddedFAQs(ctx context.Context) ([]FAQ, error) {
	return s.queryFAQs(ctx, `WHERE embedding IS NOT NULL`)
}

// GetFAQ returns an FAQ by id.
func (s *Store) GetFAQ(ctx context.Context, id string) (FAQ, error) {
	faqs, err := s.queryFAQs(ctx, `WHERE id = ?`, id)
	if err != nil {
		return FAQ{}, err
	}
	if len(faqs) == 0 {
		return FAQ{}, ErrNotFound
	}
	return faqs[0], nil
}

func (s *Store) queryFAQs(ctx context.Context, where string, args ...any) ([]FAQ, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question, answer, embedding, updated_at FROM faqs `+where+` ORDER BY rowid ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying faqs: %w", err)
	}
	defer rows.Close()

	var out []FAQ
	for rows.Next() {
		var f FAQ
		var blob []byte
		var updatedAt string
		if err := rows.Scan(&f.ID, &f.Question, &f.Answer, &blob, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning faq: %w", err)
		}
		if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at for faq %s: %w", f.ID, err)
		}
		if f.Embedding, err = decodeFloat32s(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for faq %s: %w", f.ID, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RecordCounts summarises how many records exist and how many are embedded.
type RecordCounts struct {
	Messages         int `json:"messages"`
	EmbeddedMessages int `json:"embedded_messages"`
	FAQs             int `json:"faqs"`
	EmbeddedFAQs     int `json:"embedded_faqs"`
}

// Counts returns record totals for status reporting.
func (s *Store) Counts(ctx context.Context) (RecordCounts, error) {
	var c RecordCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM messages WHERE embedding IS NOT NULL),
			(SELECT COUNT(*) FROM faqs),
			(SELECT COUNT(*) FROM faqs WHERE embedding IS NOT NULL)`,
	).Scan(&c.Messages, &c.EmbeddedMessages, &c.FAQs, &c.EmbeddedFAQs)
	if err != nil {
		return RecordCounts{}, fmt.Errorf("counting records: %w", err)
	}
	return c, nil
}

// EmbeddingDimension returns the dimension of the earliest stored embedding,
// checking messages before FAQs. Returns 0 when nothing is embedded yet.
func (s *Store) EmbeddingDimension(ctx context.Context) (int, error) {
	var dim sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT embedding_dim FROM (
			SELECT embedding_dim, 0 AS src, rowid AS rid FROM messages WHERE embedding_dim IS NOT NULL
			UNION ALL
			SELECT embedding_dim, 1 AS src, rowid AS rid FROM faqs WHERE embedding_dim IS NOT NULL
		) ORDER BY src, rid LIMIT 1`).Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading embedding dimension: %w", err)
	}
	return int(dim.Int64), nil
}
