package testutil

import (
	"context"

	"github.com/quillsocial/quill/internal/homeserver"
)

// HomeserverCall records one forwarded mutation.
type HomeserverCall struct {
	Action homeserver.Action
	Path   string
	Body   any
}

// FakeHomeserver implements homeserver.Client in memory.
type FakeHomeserver struct {
	Err   error
	Calls []HomeserverCall
}

func (f *FakeHomeserver) Request(ctx context.Context, action homeserver.Action, path string, body any) error {
	f.Calls = append(f.Calls, HomeserverCall{Action: action, Path: path, Body: body})
	return f.Err
}
