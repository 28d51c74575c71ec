// Package ingest loads support messages and FAQs into the store, embeds the
// records that lack a vector and runs queued jobs.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/kalambet/faqscope/internal/storage"
)

// Timestamp reads either an RFC 3339 string or epoch milliseconds.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339, unq)
		if err != nil {
			return fmt.Errorf("parsing timestamp %q: %w", unq, err)
		}
		t.Time = parsed.UTC()
		return nil
	}
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parsing timestamp %s: %w", s, err)
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

// MessageRecord is one message of an export file.
type MessageRecord struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	CreatedAt *Timestamp `json:"created_at,omitempty"`
}

// FAQRecord is one FAQ of an export file.
type FAQRecord struct {
	ID       string `json:"id,omitempty"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ReadMessages decodes a JSON array or a stream of JSON objects.
func ReadMessages(r io.Reader) ([]MessageRecord, error) {
	return decodeRecords[MessageRecord](r)
}

// ReadFAQs decodes a JSON array or a stream of JSON objects.
func ReadFAQs(r io.Reader) ([]FAQRecord, error) {
	return decodeRecords[FAQRecord](r)
}

func decodeRecords[T any](r io.Reader) ([]T, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var out []T
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("decoding records: %w", err)
		}
		return out, nil
	}

	var out []T
	for {
		var rec T
		err := dec.Decode(&rec)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decoding record %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if b != ' ' && b != '\n' && b != '\r' && b != '\t' {
			return b, br.UnreadByte()
		}
	}
}

// StripHTML returns the visible text of an HTML fragment with whitespace
// collapsed. Script and style contents are dropped. Plain text passes through.
func StripHTML(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skip++
			} else if isBlock(tag) {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				if skip > 0 {
					skip--
				}
			} else if isBlock(tag) {
				b.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "br", "li", "ul", "ol", "tr", "td", "th", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "pre", "table":
		return true
	}
	return false
}

// ImportStats reports one import.
type ImportStats struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// RecordWriter is the storage used by the importers.
type RecordWriter interface {
	UpsertMessage(ctx context.Context, m storage.Message) error
	UpsertFAQ(ctx context.Context, f storage.FAQ) (string, error)
}

// ImportMessages stores messages after HTML stripping. Records without an id
// or with no text left are skipped.
func ImportMessages(ctx context.Context, w RecordWriter, recs []MessageRecord) (ImportStats, error) {
	var stats ImportStats
	for _, r := range recs {
		text := StripHTML(r.Text)
		if r.ID == "" || text == "" {
			stats.Skipped++
			continue
		}
		m := storage.Message{ID: r.ID, Text: text}
		if r.CreatedAt != nil && !r.CreatedAt.IsZero() {
			t := r.CreatedAt.Time
			m.CreatedAt = &t
		}
		if err := w.UpsertMessage(ctx, m); err != nil {
			return stats, err
		}
		stats.Imported++
	}
	slog.Info("ingest: messages imported", "imported", stats.Imported, "skipped", stats.Skipped)
	return stats, nil
}

// ImportFAQs stores FAQs keyed by question. Records missing a question or
// answer are skipped.
func ImportFAQs(ctx context.Context, w RecordWriter, recs []FAQRecord) (ImportStats, error) {
	var stats ImportStats
	for _, r := range recs {
		q, a := StripHTML(r.Question), StripHTML(r.Answer)
		if q == "" || a == "" {
			stats.Skipped++
			continue
		}
		if _, err := w.UpsertFAQ(ctx, storage.FAQ{ID: r.ID, Question: q, Answer: a}); err != nil {
			return stats, err
		}
		stats.Imported++
	}
	slog.Info("ingest: faqs imported", "imported", stats.Imported, "skipped", stats.Skipped)
	return stats, nil
}
