package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/quillsocial/quill/internal/model"
)

// SetFollowing flips the viewer's following flag on a user and adjusts
// that user's follower count, in one transaction. Returns whether state
// changed; setting a flag to its current value is a no-op.
func (s *Store) SetFollowing(ctx context.Context, userID string, following bool) (bool, error) {
	var rel model.UserRelationships
	changed, err := s.updateUserRelationship(ctx, userID, &rel, func() bool {
		if rel.Following == following {
			return false
		}
		rel.Following = following
		return true
	}, func(counts *model.UserCounts) {
		if following {
			counts.Followers++
		} else if counts.Followers > 0 {
			counts.Followers--
		}
	})
	if err != nil {
		return false, fmt.Errorf("set following %s: %w", userID, err)
	}
	return changed, nil
}

// SetMuted flips the viewer's muted flag on a user. No count is affected.
func (s *Store) SetMuted(ctx context.Context, userID string, muted bool) (bool, error) {
	var rel model.UserRelationships
	changed, err := s.updateUserRelationship(ctx, userID, &rel, func() bool {
		if rel.Muted == muted {
			return false
		}
		rel.Muted = muted
		return true
	}, nil)
	if err != nil {
		return false, fmt.Errorf("set muted %s: %w", userID, err)
	}
	return changed, nil
}

// SetBookmarked flips the viewer's bookmark flag on a post.
func (s *Store) SetBookmarked(ctx context.Context, postID string, bookmarked bool) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("set bookmarked %s: begin tx: %w", postID, err)
	}
	defer tx.Rollback()

	var rel model.PostRelationships
	payload, err := readPayload(ctx, tx, TablePostRelationships, postID)
	if err != nil {
		return false, fmt.Errorf("set bookmarked %s: %w", postID, err)
	}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &rel); err != nil {
			return false, fmt.Errorf("set bookmarked %s: decode: %w", postID, err)
		}
	}
	if rel.Bookmarked == bookmarked {
		return false, nil
	}
	rel.Bookmarked = bookmarked

	if err := writePayload(ctx, tx, TablePostRelationships, postID, rel); err != nil {
		return false, fmt.Errorf("set bookmarked %s: %w", postID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("set bookmarked %s: commit: %w", postID, err)
	}

	s.notifier.publish(string(TablePostRelationships), postID)
	return true, nil
}

// updateUserRelationship runs the read-check-write cycle for a user's
// relationships row, optionally adjusting the counts row in the same
// transaction. rel is populated before apply runs; apply reports whether
// anything changed.
func (s *Store) updateUserRelationship(
	ctx context.Context,
	userID string,
	rel *model.UserRelationships,
	apply func() bool,
	adjustCounts func(*model.UserCounts),
) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	payload, err := readPayload(ctx, tx, TableUserRelationships, userID)
	if err != nil {
		return false, err
	}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), rel); err != nil {
			return false, fmt.Errorf("decode relationships: %w", err)
		}
	}

	if !apply() {
		return false, nil
	}

	if err := writePayload(ctx, tx, TableUserRelationships, userID, rel); err != nil {
		return false, err
	}

	if adjustCounts != nil {
		var counts model.UserCounts
		countsPayload, err := readPayload(ctx, tx, TableUserCounts, userID)
		if err != nil {
			return false, err
		}
		if countsPayload != "" {
			if err := json.Unmarshal([]byte(countsPayload), &counts); err != nil {
				return false, fmt.Errorf("decode counts: %w", err)
			}
		}
		adjustCounts(&counts)
		if err := writePayload(ctx, tx, TableUserCounts, userID, counts); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	s.notifier.publish(string(TableUserRelationships), userID)
	if adjustCounts != nil {
		s.notifier.publish(string(TableUserCounts), userID)
	}
	return true, nil
}

// readPayload returns the payload for id in table, or "" when absent.
func readPayload(ctx context.Context, tx *sql.Tx, table Table, id string) (string, error) {
	var payload string
	err := tx.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT payload FROM %s WHERE id = ?", table), id).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", table, err)
	}
	return payload, nil
}

func writePayload(ctx context.Context, tx *sql.Tx, table Table, id string, v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", table, err)
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, payload) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload
	`, table), id, string(encoded))
	if err != nil {
		return fmt.Errorf("write %s: %w", table, err)
	}
	return nil
}
