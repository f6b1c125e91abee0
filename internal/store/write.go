package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quillsocial/quill/internal/model"
)

// BulkSave upserts all rows into an entity-family table (or files) in a
// single transaction. Either every row lands or none does. Existing rows
// are overwritten, so re-ingesting the same batch is idempotent.
//
// Not valid for the streams or ttl_records tables; those have dedicated
// operations with their own key columns.
func (s *Store) BulkSave(ctx context.Context, table Table, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bulk save %s: begin tx: %w", table, err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, payload) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload
	`, table))
	if err != nil {
		return fmt.Errorf("bulk save %s: prepare: %w", table, err)
	}
	defer stmt.Close()

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.ID, row.Payload); err != nil {
			return fmt.Errorf("bulk save %s: id %s: %w", table, row.ID, err)
		}
		ids = append(ids, row.ID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bulk save %s: commit: %w", table, err)
	}

	s.notifier.publish(string(table), ids...)
	return nil
}

// BulkDelete removes the given ids from a table in one transaction.
// Missing ids are ignored.
func (s *Store) BulkDelete(ctx context.Context, table Table, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE id IN (%s)", table, placeholders), args...)
	if err != nil {
		return fmt.Errorf("bulk delete %s: %w", table, err)
	}

	s.notifier.publish(string(table), ids...)
	return nil
}

// UpsertStreamIDs appends newIDs to a stream's cached sequence,
// de-duplicating against ids already present (duplicates silently
// dropped, order preserved), and stamps updated_at. Creates the stream
// record if absent. Returns the merged sequence length.
//
// Append is the only mutation pattern for streams; the sequence never
// reorders or shrinks outside Clear.
func (s *Store) UpsertStreamIDs(ctx context.Context, streamID string, newIDs []string, atMillis int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("upsert stream %s: begin tx: %w", streamID, err)
	}
	defer tx.Rollback()

	var idsJSON string
	var existing []string
	err = tx.QueryRowContext(ctx,
		"SELECT ids FROM streams WHERE stream_id = ?", streamID).Scan(&idsJSON)
	switch {
	case err == sql.ErrNoRows:
		// First write for this stream
	case err != nil:
		return 0, fmt.Errorf("upsert stream %s: read: %w", streamID, err)
	default:
		if err := json.Unmarshal([]byte(idsJSON), &existing); err != nil {
			return 0, fmt.Errorf("upsert stream %s: decode ids: %w", streamID, err)
		}
	}

	seen := make(map[string]struct{}, len(existing)+len(newIDs))
	for _, id := range existing {
		seen[id] = struct{}{}
	}
	merged := existing
	for _, id := range newIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return 0, fmt.Errorf("upsert stream %s: encode ids: %w", streamID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO streams (stream_id, ids, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(stream_id) DO UPDATE SET ids = excluded.ids, updated_at = excluded.updated_at
	`, streamID, string(encoded), atMillis)
	if err != nil {
		return 0, fmt.Errorf("upsert stream %s: write: %w", streamID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("upsert stream %s: commit: %w", streamID, err)
	}

	s.notifier.publish(string(TableStreams), streamID)
	return len(merged), nil
}

// StampTTL records last_updated_at for every id in one transaction.
// Callers must only stamp ids whose data actually landed; a stamp is the
// confirm-fresh signal.
func (s *Store) StampTTL(ctx context.Context, ids []string, atMillis int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("stamp ttl: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ttl_records (id, last_updated_at) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET last_updated_at = excluded.last_updated_at
	`)
	if err != nil {
		return fmt.Errorf("stamp ttl: prepare: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, atMillis); err != nil {
			return fmt.Errorf("stamp ttl: id %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("stamp ttl: commit: %w", err)
	}

	s.notifier.publish(string(TableTTL), ids...)
	return nil
}

// AddTag applies (label, tagger) to an entity's tag state and bumps the
// entity's tag count, all in one transaction. Returns whether state
// actually changed: re-applying an existing tag is a no-op reported as
// changed=false, so callers can distinguish "already in that state" from
// "just changed".
func (s *Store) AddTag(ctx context.Context, family model.Family, id, label, tagger string) (bool, error) {
	return s.mutateTags(ctx, family, id, label, tagger, true)
}

// RemoveTag is the inverse of AddTag: removes (label, tagger) and
// decrements the tag count. Removing an absent tag reports changed=false.
func (s *Store) RemoveTag(ctx context.Context, family model.Family, id, label, tagger string) (bool, error) {
	return s.mutateTags(ctx, family, id, label, tagger, false)
}

func (s *Store) mutateTags(ctx context.Context, family model.Family, id, label, tagger string, add bool) (bool, error) {
	op := "remove tag"
	if add {
		op = "add tag"
	}
	label = model.NormalizeLabel(label)

	tagsTable := TagsTable(family)
	countsTable := CountsTable(family)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%s %s: begin tx: %w", op, id, err)
	}
	defer tx.Rollback()

	var tags model.Tags
	var payload string
	err = tx.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT payload FROM %s WHERE id = ?", tagsTable), id).Scan(&payload)
	switch {
	case err == sql.ErrNoRows:
		// No tag state yet; removing from nothing is a no-op below.
	case err != nil:
		return false, fmt.Errorf("%s %s: read tags: %w", op, id, err)
	default:
		if err := json.Unmarshal([]byte(payload), &tags); err != nil {
			return false, fmt.Errorf("%s %s: decode tags: %w", op, id, err)
		}
	}

	var next model.Tags
	var changed bool
	if add {
		next, changed = appendTag(tags, label, tagger)
	} else {
		next, changed = dropTag(tags, label, tagger)
	}
	if !changed {
		return false, nil
	}

	encoded, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("%s %s: encode tags: %w", op, id, err)
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, payload) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload
	`, tagsTable), id, string(encoded))
	if err != nil {
		return false, fmt.Errorf("%s %s: write tags: %w", op, id, err)
	}

	if err := bumpTagCount(ctx, tx, countsTable, family, id, add); err != nil {
		return false, fmt.Errorf("%s %s: %w", op, id, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%s %s: commit: %w", op, id, err)
	}

	s.notifier.publish(string(tagsTable), id)
	s.notifier.publish(string(countsTable), id)
	return true, nil
}

// appendTag returns tags with (label, tagger) added, preserving group and
// tagger order. Reports false if the pair was already present. label must
// already be NFC; stored labels may predate normalization (remote
// payloads are persisted verbatim), so groups are matched NFC-insensitively.
func appendTag(tags model.Tags, label, tagger string) (model.Tags, bool) {
	for i, g := range tags {
		if model.NormalizeLabel(g.Label) != label {
			continue
		}
		for _, u := range g.Taggers {
			if u == tagger {
				return tags, false
			}
		}
		out := make(model.Tags, len(tags))
		copy(out, tags)
		out[i].Taggers = append(append([]string{}, g.Taggers...), tagger)
		return out, true
	}
	return append(append(model.Tags{}, tags...), model.TagGroup{Label: label, Taggers: []string{tagger}}), true
}

// dropTag returns tags with (label, tagger) removed; a group emptied of
// taggers is removed entirely. Reports false if the pair was absent.
func dropTag(tags model.Tags, label, tagger string) (model.Tags, bool) {
	for i, g := range tags {
		if model.NormalizeLabel(g.Label) != label {
			continue
		}
		for j, u := range g.Taggers {
			if u != tagger {
				continue
			}
			out := make(model.Tags, len(tags))
			copy(out, tags)
			taggers := append(append([]string{}, g.Taggers[:j]...), g.Taggers[j+1:]...)
			if len(taggers) == 0 {
				out = append(out[:i], out[i+1:]...)
			} else {
				out[i].Taggers = taggers
			}
			return out, true
		}
	}
	return tags, false
}

// bumpTagCount adjusts the tags field of the counts payload by +-1,
// creating a zero-valued counts row if none exists yet.
func bumpTagCount(ctx context.Context, tx *sql.Tx, table Table, family model.Family, id string, up bool) error {
	var payload string
	err := tx.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT payload FROM %s WHERE id = ?", table), id).Scan(&payload)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read counts: %w", err)
	}

	delta := int64(1)
	if !up {
		delta = -1
	}

	var encoded []byte
	if family == model.FamilyPost {
		var counts model.PostCounts
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &counts); err != nil {
				return fmt.Errorf("decode counts: %w", err)
			}
		}
		counts.Tags += delta
		if counts.Tags < 0 {
			counts.Tags = 0
		}
		encoded, err = json.Marshal(counts)
	} else {
		var counts model.UserCounts
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &counts); err != nil {
				return fmt.Errorf("decode counts: %w", err)
			}
		}
		counts.Tags += delta
		if counts.Tags < 0 {
			counts.Tags = 0
		}
		encoded, err = json.Marshal(counts)
	}
	if err != nil {
		return fmt.Errorf("encode counts: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, payload) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload
	`, table), id, string(encoded))
	if err != nil {
		return fmt.Errorf("write counts: %w", err)
	}
	return nil
}
