package testutil

import (
	"context"
	"sync"

	"github.com/quillsocial/quill/internal/model"
	"github.com/quillsocial/quill/internal/nexus"
)

// FakeNexus is a scripted content-API client recording every call.
//
// Entities and Files are served from the keyed maps; ids absent from a
// map are simply omitted from the response, mirroring a remote that no
// longer knows them. Pages are served per streamId in FIFO order; an
// exhausted script yields an empty page (end of stream). Set Err to make
// every call fail.
type FakeNexus struct {
	mu       sync.Mutex
	Entities map[string]model.Entity
	Files    map[string]model.File
	Pages    map[string][]nexus.Page
	Err      error

	EntityCalls [][]string
	PageCalls   []PageCall
	FileCalls   [][]string
}

// PageCall records one FetchStreamPage invocation.
type PageCall struct {
	StreamID string
	Cursor   nexus.Cursor
	Limit    int
	ViewerID string
}

// NewFakeNexus creates an empty scripted client.
func NewFakeNexus() *FakeNexus {
	return &FakeNexus{
		Entities: make(map[string]model.Entity),
		Files:    make(map[string]model.File),
		Pages:    make(map[string][]nexus.Page),
	}
}

func (f *FakeNexus) FetchEntitiesByIDs(_ context.Context, ids []string, _ string) ([]model.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.EntityCalls = append(f.EntityCalls, append([]string{}, ids...))
	if f.Err != nil {
		return nil, f.Err
	}
	var out []model.Entity
	for _, id := range ids {
		if e, ok := f.Entities[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *FakeNexus) FetchStreamPage(_ context.Context, streamID string, cursor nexus.Cursor, limit int, viewerID string) (nexus.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PageCalls = append(f.PageCalls, PageCall{StreamID: streamID, Cursor: cursor, Limit: limit, ViewerID: viewerID})
	if f.Err != nil {
		return nexus.Page{}, f.Err
	}
	queue := f.Pages[streamID]
	if len(queue) == 0 {
		return nexus.Page{IDs: []string{}}, nil
	}
	page := queue[0]
	f.Pages[streamID] = queue[1:]
	return page, nil
}

func (f *FakeNexus) FetchFilesByIDs(_ context.Context, ids []string) ([]model.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FileCalls = append(f.FileCalls, append([]string{}, ids...))
	if f.Err != nil {
		return nil, f.Err
	}
	var out []model.File
	for _, id := range ids {
		if file, ok := f.Files[id]; ok {
			out = append(out, file)
		}
	}
	return out, nil
}

// PageCallCount returns how many stream page fetches were recorded.
func (f *FakeNexus) PageCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.PageCalls)
}
