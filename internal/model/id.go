package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedPostID indicates a composite post id that does not have the
// form "authorId:postId" with both segments non-empty.
var ErrMalformedPostID = errors.New("malformed post id")

// PostID is the composite identifier of a post: the author's user id plus
// the author-scoped post id. It is stored and transmitted as the single
// string "authorId:postId".
//
// Centralizing the parse/render pair here keeps malformed-id handling in
// one place instead of ad hoc string splitting at call sites.
type PostID struct {
	Author string
	Post   string
}

// ParsePostID parses a composite "authorId:postId" string.
// The first colon is the separator; the post segment may itself contain
// colons. Both segments must be non-empty.
func ParsePostID(s string) (PostID, error) {
	author, post, ok := strings.Cut(s, ":")
	if !ok {
		return PostID{}, fmt.Errorf("parse %q: %w: missing separator", s, ErrMalformedPostID)
	}
	if author == "" || post == "" {
		return PostID{}, fmt.Errorf("parse %q: %w: empty segment", s, ErrMalformedPostID)
	}
	return PostID{Author: author, Post: post}, nil
}

// String renders the composite form "authorId:postId".
func (p PostID) String() string {
	return p.Author + ":" + p.Post
}

// IsPostID reports whether s looks like a composite post id.
// User ids never contain a colon.
func IsPostID(s string) bool {
	_, err := ParsePostID(s)
	return err == nil
}
