package model

import (
	"encoding/json"

	"golang.org/x/text/unicode/norm"
)

// Family distinguishes the two cached entity families. Each family has
// its own set of store tables; ids within a family are unique.
type Family string

const (
	FamilyUser Family = "user"
	FamilyPost Family = "post"
)

// FamilyOf derives the family from an id's shape: composite ids are
// posts, plain ids are users.
func FamilyOf(id string) Family {
	if IsPostID(id) {
		return FamilyPost
	}
	return FamilyUser
}

// UserDetails is the mutable payload of a cached user.
type UserDetails struct {
	Name   string `json:"name"`
	Bio    string `json:"bio,omitempty"`
	Image  string `json:"image,omitempty"`
	Status string `json:"status,omitempty"`
	Links  []Link `json:"links,omitempty"`
}

// Link is a labeled URL on a user profile.
type Link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// UserCounts holds a user's aggregate numeric fields.
type UserCounts struct {
	Followers int64 `json:"followers"`
	Following int64 `json:"following"`
	Posts     int64 `json:"posts"`
	Tags      int64 `json:"tags"`
}

// UserRelationships holds a user's structural links relative to the viewer.
type UserRelationships struct {
	Following  bool `json:"following"`
	FollowedBy bool `json:"followed_by"`
	Muted      bool `json:"muted"`
}

// PostDetails is the mutable payload of a cached post. The author is NOT
// stored here: it is already encoded in the composite id, and keeping it
// out of the payload prevents drift between the two.
type PostDetails struct {
	Content   string   `json:"content"`
	Kind      string   `json:"kind,omitempty"`
	IndexedAt int64    `json:"indexed_at"`
	URI       string   `json:"uri,omitempty"`
	FileRefs  []string `json:"file_refs,omitempty"`
}

// PostCounts holds a post's aggregate numeric fields.
type PostCounts struct {
	Replies int64 `json:"replies"`
	Reposts int64 `json:"reposts"`
	Tags    int64 `json:"tags"`
}

// PostRelationships holds a post's structural links plus viewer-relative
// state.
type PostRelationships struct {
	RepliedTo  string   `json:"replied_to,omitempty"`
	Reposted   string   `json:"reposted,omitempty"`
	Mentions   []string `json:"mentions,omitempty"`
	Bookmarked bool     `json:"bookmarked,omitempty"`
}

// TagGroup is one label with the ordered set of user ids that applied it.
// An entity's tags are an ordered slice of groups; group order and tagger
// order within a group are both preserved as received.
type TagGroup struct {
	Label   string   `json:"label"`
	Taggers []string `json:"taggers"`
}

// Tags is an entity's full ordered tag state.
type Tags []TagGroup

// NormalizeLabel returns the NFC form of a user-supplied tag label.
// Labels are compared byte-wise, and input methods disagree on whether
// accented characters arrive precomposed or as combining sequences; NFC
// at the comparison boundary keeps the two forms from coexisting as
// distinct tags.
func NormalizeLabel(label string) string {
	return norm.NFC.String(label)
}

// Has reports whether tagger has applied label. The label comparison is
// NFC-insensitive.
func (t Tags) Has(label, tagger string) bool {
	label = NormalizeLabel(label)
	for _, g := range t {
		if NormalizeLabel(g.Label) != label {
			continue
		}
		for _, u := range g.Taggers {
			if u == tagger {
				return true
			}
		}
	}
	return false
}

// File is a content-addressed attachment blob's metadata.
type File struct {
	ID          string `json:"id"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Entity is one ingested record as it arrives from the content API:
// an id plus the four sub-records that must land in the store together.
// Sub-records stay as raw JSON so the persistence path is family-agnostic;
// readers decode into the typed structs above.
type Entity struct {
	ID            string          `json:"id"`
	Details       json.RawMessage `json:"details"`
	Counts        json.RawMessage `json:"counts"`
	Relationships json.RawMessage `json:"relationships"`
	Tags          Tags            `json:"tags"`
}

// FileRefs extracts attachment ids from a post entity's details.
// Returns nil for users or details without file references.
func (e Entity) FileRefs() []string {
	if len(e.Details) == 0 {
		return nil
	}
	var d struct {
		FileRefs []string `json:"file_refs"`
	}
	if err := json.Unmarshal(e.Details, &d); err != nil {
		return nil
	}
	return d.FileRefs
}

// TTLRecord is the last-confirmed-fresh stamp for an entity id.
// Absence of a record means "never confirmed fresh", which is stale.
type TTLRecord struct {
	ID            string
	LastUpdatedAt int64 // epoch millis
}
