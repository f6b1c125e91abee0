package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quillsocial/quill/internal/model"
)

// FindByID returns the payload for id, with found=false on a miss.
func (s *Store) FindByID(ctx context.Context, table Table, id string) (string, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT payload FROM %s WHERE id = ?", table), id).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find %s id %s: %w", table, id, err)
	}
	return payload, true, nil
}

// FindByIDsPreserveOrder returns a slice the same length as ids, with the
// payload at each id's position and nil holes for misses. Callers use the
// holes to compute cache-miss sets.
func (s *Store) FindByIDsPreserveOrder(ctx context.Context, table Table, ids []string) ([]*string, error) {
	out := make([]*string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT id, payload FROM %s WHERE id IN (%s)", table, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("find %s by ids: %w", table, err)
	}
	defer rows.Close()

	byID := make(map[string]string, len(ids))
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("find %s by ids: scan: %w", table, err)
		}
		byID[id] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find %s by ids: iterate: %w", table, err)
	}

	for i, id := range ids {
		if payload, ok := byID[id]; ok {
			p := payload
			out[i] = &p
		}
	}
	return out, nil
}

// MissingIDs returns the subset of ids with no row in table, preserving
// input order.
func (s *Store) MissingIDs(ctx context.Context, table Table, ids []string) ([]string, error) {
	found, err := s.FindByIDsPreserveOrder(ctx, table, ids)
	if err != nil {
		return nil, err
	}
	missing := []string{}
	for i, p := range found {
		if p == nil {
			missing = append(missing, ids[i])
		}
	}
	return missing, nil
}

// ReadStream returns a stream's cached record, with found=false when the
// stream has never been written.
func (s *Store) ReadStream(ctx context.Context, streamID string) (model.StreamRecord, bool, error) {
	rec := model.StreamRecord{StreamID: streamID}
	var idsJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT ids, updated_at FROM streams WHERE stream_id = ?", streamID).
		Scan(&idsJSON, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("read stream %s: %w", streamID, err)
	}
	if err := json.Unmarshal([]byte(idsJSON), &rec.IDs); err != nil {
		return rec, false, fmt.Errorf("read stream %s: decode ids: %w", streamID, err)
	}
	return rec, true, nil
}

// ReadTTLs returns last_updated_at for every id that has a TTL record.
// Absent ids are simply absent from the map (never confirmed fresh).
func (s *Store) ReadTTLs(ctx context.Context, ids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT id, last_updated_at FROM ttl_records WHERE id IN (%s)", placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("read ttls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var at int64
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("read ttls: scan: %w", err)
		}
		out[id] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ttls: iterate: %w", err)
	}
	return out, nil
}

// AllTTLIDs returns every tracked entity id, ordered by id for
// deterministic sweeps. Used by the background refresher.
func (s *Store) AllTTLIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM ttl_records ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("all ttl ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("all ttl ids: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("all ttl ids: iterate: %w", err)
	}
	return ids, nil
}

// AllStreamMemberIDs returns the union of every cached stream's member
// ids, deduplicated, ordered by first appearance across streams sorted
// by id. Used by the background refresher.
func (s *Store) AllStreamMemberIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT ids FROM streams ORDER BY stream_id ASC")
	if err != nil {
		return nil, fmt.Errorf("all stream members: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	out := []string{}
	for rows.Next() {
		var idsJSON string
		if err := rows.Scan(&idsJSON); err != nil {
			return nil, fmt.Errorf("all stream members: scan: %w", err)
		}
		var ids []string
		if err := json.Unmarshal([]byte(idsJSON), &ids); err != nil {
			return nil, fmt.Errorf("all stream members: decode ids: %w", err)
		}
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("all stream members: iterate: %w", err)
	}
	return out, nil
}

// ReadTags decodes an entity's tag state; nil when no row exists.
func (s *Store) ReadTags(ctx context.Context, family model.Family, id string) (model.Tags, error) {
	payload, found, err := s.FindByID(ctx, TagsTable(family), id)
	if err != nil || !found {
		return nil, err
	}
	var tags model.Tags
	if err := json.Unmarshal([]byte(payload), &tags); err != nil {
		return nil, fmt.Errorf("read tags %s: decode: %w", id, err)
	}
	return tags, nil
}
