package model

import "strings"

// CursorMode distinguishes how a stream kind pages against the remote API.
//
// Offset-mode streams (ranked/engagement lists) use item-count-so-far as
// their cursor, because ranked order is not stable under time-based
// replay. Time-mode streams (timelines) use the last-seen timestamp.
type CursorMode int

const (
	CursorByOffset CursorMode = iota
	CursorByTime
)

// StreamKind names a stream variant and fixes its cursor mode.
type StreamKind struct {
	Name       string
	CursorMode CursorMode
}

// Known stream kinds. The kind is the streamId's prefix before the first
// colon: "timeline:all", "influencers:today:all", "recommended:posts",
// "hot:tags".
var (
	KindTimeline    = StreamKind{Name: "timeline", CursorMode: CursorByTime}
	KindInfluencers = StreamKind{Name: "influencers", CursorMode: CursorByOffset}
	KindRecommended = StreamKind{Name: "recommended", CursorMode: CursorByOffset}
	KindHot         = StreamKind{Name: "hot", CursorMode: CursorByOffset}
)

var streamKinds = map[string]StreamKind{
	KindTimeline.Name:    KindTimeline,
	KindInfluencers.Name: KindInfluencers,
	KindRecommended.Name: KindRecommended,
	KindHot.Name:         KindHot,
}

// StreamKindOf derives the kind from a streamId. Unknown prefixes default
// to offset mode, the safe choice for any ranked list.
func StreamKindOf(streamID string) StreamKind {
	prefix, _, _ := strings.Cut(streamID, ":")
	if k, ok := streamKinds[prefix]; ok {
		return k
	}
	return StreamKind{Name: prefix, CursorMode: CursorByOffset}
}

// StreamRecord is a stream's locally known prefix: the ordered, duplicate
// free id sequence plus the metadata needed to resume pagination.
type StreamRecord struct {
	StreamID  string
	IDs       []string
	UpdatedAt int64 // epoch millis of the last successful upsert
}
