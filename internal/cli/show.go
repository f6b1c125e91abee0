package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quillsocial/quill/internal/model"
	"github.com/quillsocial/quill/internal/store"
)

// ShowOptions holds flags for show stream.
type ShowOptions struct {
	*RootOptions
	Skip  int
	Limit int
}

// NewShowCommand creates the show command group.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Inspect the local cache",
	}

	streamCmd := &cobra.Command{
		Use:   "stream <stream-id>",
		Short: "Print a cached stream's member ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShowStream(opts, args[0], cmd)
		},
	}
	streamCmd.Flags().IntVar(&opts.Skip, "skip", 0, "ids to skip from the head")
	streamCmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum ids to print")

	entityCmd := &cobra.Command{
		Use:   "entity <id>",
		Short: "Print a cached entity's stored state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShowEntity(opts, args[0], cmd)
		},
	}

	cmd.AddCommand(streamCmd)
	cmd.AddCommand(entityCmd)
	return cmd
}

// streamView is the printable slice of one cached stream.
type streamView struct {
	StreamID  string   `json:"stream_id"`
	UpdatedAt int64    `json:"updated_at"`
	Total     int      `json:"total"`
	Skip      int      `json:"skip"`
	IDs       []string `json:"ids"`
}

func (v streamView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stream %s (%d cached, updated_at=%d)\n", v.StreamID, v.Total, v.UpdatedAt)
	for i, id := range v.IDs {
		fmt.Fprintf(&b, "%4d  %s\n", v.Skip+i, id)
	}
	return strings.TrimRight(b.String(), "\n")
}

func runShowStream(opts *ShowOptions, streamID string, cmd *cobra.Command) error {
	if opts.Skip < 0 || opts.Limit <= 0 {
		return WrapExitError(ExitCommandError, "skip must be >= 0 and limit > 0", nil)
	}
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	rec, found, err := st.ReadStream(cmd.Context(), streamID)
	if err != nil {
		return WrapExitError(ExitFailure, "read stream", err)
	}
	if !found {
		return WrapExitError(ExitFailure, fmt.Sprintf("stream %q not cached", streamID), nil)
	}

	window := rec.IDs
	if opts.Skip < len(window) {
		window = window[opts.Skip:]
	} else {
		window = nil
	}
	if len(window) > opts.Limit {
		window = window[:opts.Limit]
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(streamView{
		StreamID:  rec.StreamID,
		UpdatedAt: rec.UpdatedAt,
		Total:     len(rec.IDs),
		Skip:      opts.Skip,
		IDs:       window,
	})
}

// entityView is the printable stored state of one entity.
type entityView struct {
	ID            string          `json:"id"`
	Family        string          `json:"family"`
	Details       json.RawMessage `json:"details,omitempty"`
	Counts        json.RawMessage `json:"counts,omitempty"`
	Relationships json.RawMessage `json:"relationships,omitempty"`
	Tags          json.RawMessage `json:"tags,omitempty"`
	FreshAt       int64           `json:"fresh_at,omitempty"`
}

func (v entityView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", v.Family, v.ID)
	if v.FreshAt > 0 {
		fmt.Fprintf(&b, " (fresh_at=%d)", v.FreshAt)
	}
	b.WriteString("\n")
	for _, section := range []struct {
		name string
		raw  json.RawMessage
	}{
		{"details", v.Details},
		{"counts", v.Counts},
		{"relationships", v.Relationships},
		{"tags", v.Tags},
	} {
		if len(section.raw) == 0 {
			continue
		}
		fmt.Fprintf(&b, "  %-14s %s\n", section.name, section.raw)
	}
	return strings.TrimRight(b.String(), "\n")
}

func runShowEntity(opts *ShowOptions, id string, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	view, found, err := readEntityView(cmd.Context(), st, id)
	if err != nil {
		return WrapExitError(ExitFailure, "read entity", err)
	}
	if !found {
		return WrapExitError(ExitFailure, fmt.Sprintf("entity %q not cached", id), nil)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(view)
}

func readEntityView(ctx context.Context, st *store.Store, id string) (entityView, bool, error) {
	family := model.FamilyOf(id)
	view := entityView{ID: id, Family: string(family)}

	found := false
	for _, part := range []struct {
		table store.Table
		dst   *json.RawMessage
	}{
		{store.DetailsTable(family), &view.Details},
		{store.CountsTable(family), &view.Counts},
		{store.RelationshipsTable(family), &view.Relationships},
		{store.TagsTable(family), &view.Tags},
	} {
		payload, ok, err := st.FindByID(ctx, part.table, id)
		if err != nil {
			return entityView{}, false, err
		}
		if ok {
			*part.dst = json.RawMessage(payload)
			found = true
		}
	}

	ttls, err := st.ReadTTLs(ctx, []string{id})
	if err != nil {
		return entityView{}, false, err
	}
	view.FreshAt = ttls[id]
	return view, found, nil
}
