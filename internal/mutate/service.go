// Package mutate applies user-initiated writes local-first: the change
// lands in the local store synchronously, then the identical logical
// operation is forwarded to the homeserver.
//
// A local failure aborts the forward - a mutation that is not even
// locally consistent is never published. A remote failure does NOT roll
// the local write back: the system accepts a window of local/remote
// divergence and relies on TTL-driven refresh to reconcile. That is a
// load-bearing design choice (optimistic local-first), not an oversight,
// and the package tests assert it directly.
package mutate

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/quillsocial/quill/internal/homeserver"
	"github.com/quillsocial/quill/internal/model"
	"github.com/quillsocial/quill/internal/store"
)

// RemoteForwardError wraps a homeserver failure after the local write
// already succeeded. Callers seeing it know the cache holds the new
// state and the remote does not, yet.
type RemoteForwardError struct {
	Op  string
	Err error
}

func (e *RemoteForwardError) Error() string {
	return fmt.Sprintf("%s: local write kept, remote forward failed: %v", e.Op, e.Err)
}

func (e *RemoteForwardError) Unwrap() error { return e.Err }

// TagRef identifies one (entity, label, tagger) relationship.
type TagRef struct {
	EntityID string
	Label    string
	TaggerID string
}

// Service applies local-first mutations.
type Service struct {
	store  *store.Store
	remote homeserver.Client
	log    *slog.Logger
}

// New creates a mutation service over the store and write-through client.
func New(st *store.Store, remote homeserver.Client, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: st, remote: remote, log: log}
}

// AddTag applies a tag locally and forwards it. Returns whether state
// actually changed: tagging an already-tagged entity is a no-op that
// reports (false, nil) and sends nothing remote.
func (s *Service) AddTag(ctx context.Context, ref TagRef) (bool, error) {
	changed, err := s.store.AddTag(ctx, model.FamilyOf(ref.EntityID), ref.EntityID, ref.Label, ref.TaggerID)
	if err != nil {
		return false, fmt.Errorf("add tag: %w", err)
	}
	if !changed {
		return false, nil
	}
	return true, s.forward(ctx, "add tag", homeserver.ActionPut, tagPath(ref), map[string]string{
		"label":  ref.Label,
		"tagger": ref.TaggerID,
	})
}

// RemoveTag removes a tag locally and forwards the deletion. Removing an
// absent tag reports (false, nil) and sends nothing remote.
func (s *Service) RemoveTag(ctx context.Context, ref TagRef) (bool, error) {
	changed, err := s.store.RemoveTag(ctx, model.FamilyOf(ref.EntityID), ref.EntityID, ref.Label, ref.TaggerID)
	if err != nil {
		return false, fmt.Errorf("remove tag: %w", err)
	}
	if !changed {
		return false, nil
	}
	return true, s.forward(ctx, "remove tag", homeserver.ActionDelete, tagPath(ref), nil)
}

// Follow marks followee as followed by the viewer and forwards it.
func (s *Service) Follow(ctx context.Context, followeeID string) (bool, error) {
	return s.setFollow(ctx, followeeID, true)
}

// Unfollow is the inverse of Follow.
func (s *Service) Unfollow(ctx context.Context, followeeID string) (bool, error) {
	return s.setFollow(ctx, followeeID, false)
}

func (s *Service) setFollow(ctx context.Context, followeeID string, following bool) (bool, error) {
	op := "unfollow"
	action := homeserver.ActionDelete
	if following {
		op = "follow"
		action = homeserver.ActionPut
	}

	changed, err := s.store.SetFollowing(ctx, followeeID, following)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !changed {
		return false, nil
	}
	return true, s.forward(ctx, op, action, "/pub/follows/"+url.PathEscape(followeeID), nil)
}

// Bookmark marks a post bookmarked by the viewer and forwards it.
func (s *Service) Bookmark(ctx context.Context, postID string) (bool, error) {
	return s.setBookmark(ctx, postID, true)
}

// Unbookmark is the inverse of Bookmark.
func (s *Service) Unbookmark(ctx context.Context, postID string) (bool, error) {
	return s.setBookmark(ctx, postID, false)
}

func (s *Service) setBookmark(ctx context.Context, postID string, bookmarked bool) (bool, error) {
	op := "unbookmark"
	action := homeserver.ActionDelete
	if bookmarked {
		op = "bookmark"
		action = homeserver.ActionPut
	}

	if _, err := model.ParsePostID(postID); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	changed, err := s.store.SetBookmarked(ctx, postID, bookmarked)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !changed {
		return false, nil
	}
	return true, s.forward(ctx, op, action, "/pub/bookmarks/"+url.PathEscape(postID), nil)
}

// forward sends the already-applied local mutation to the homeserver.
// Failure is reported as a RemoteForwardError; the local state stands.
func (s *Service) forward(ctx context.Context, op string, action homeserver.Action, path string, body any) error {
	if err := s.remote.Request(ctx, action, path, body); err != nil {
		s.log.Warn("remote forward failed; local state kept until refresh reconciles",
			"op", op, "path", path, "error", err)
		return &RemoteForwardError{Op: op, Err: err}
	}
	return nil
}

func tagPath(ref TagRef) string {
	return "/pub/tags/" + url.PathEscape(ref.EntityID) + "/" + url.PathEscape(ref.Label)
}
