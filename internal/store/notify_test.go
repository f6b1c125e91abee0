package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func unmarshalPayload(payload string, v any) error {
	return json.Unmarshal([]byte(payload), v)
}

func TestWatch_SignalsOnWrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ch, cancel := s.Watch(TableUserDetails, "alice")
	defer cancel()

	err := s.BulkSave(ctx, TableUserDetails, []Row{{ID: "alice", Payload: `{}`}})
	if err != nil {
		t.Fatalf("BulkSave() failed: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no signal after write to watched id")
	}
}

func TestWatch_IgnoresOtherIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ch, cancel := s.Watch(TableUserDetails, "alice")
	defer cancel()

	err := s.BulkSave(ctx, TableUserDetails, []Row{{ID: "bob", Payload: `{}`}})
	if err != nil {
		t.Fatalf("BulkSave() failed: %v", err)
	}

	select {
	case <-ch:
		t.Fatal("signal for a write to a different id")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchTable_SignalsOnAnyWrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ch, cancel := s.WatchTable(TableStreams)
	defer cancel()

	if _, err := s.UpsertStreamIDs(ctx, "timeline:all", []string{"a:1"}, 1); err != nil {
		t.Fatalf("UpsertStreamIDs() failed: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no signal after stream upsert")
	}
}

func TestWatch_CancelClosesChannel(t *testing.T) {
	s := openTestStore(t)

	ch, cancel := s.Watch(TableUserDetails, "alice")
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("received a value instead of close")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestWatch_CoalescesBursts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ch, cancel := s.Watch(TableUserDetails, "alice")
	defer cancel()

	for i := 0; i < 5; i++ {
		err := s.BulkSave(ctx, TableUserDetails, []Row{{ID: "alice", Payload: `{}`}})
		if err != nil {
			t.Fatalf("BulkSave() failed: %v", err)
		}
	}

	// Buffer of 1 coalesces: exactly one pending signal, channel open
	<-ch
	select {
	case <-ch:
		// A second buffered signal is possible if a publish raced the
		// first receive; draining must not block either way.
	default:
	}
}
