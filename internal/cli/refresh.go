package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillsocial/quill/internal/nexus"
	"github.com/quillsocial/quill/internal/persist"
	"github.com/quillsocial/quill/internal/store"
	"github.com/quillsocial/quill/internal/ttl"
)

// NewRefreshCommand creates the refresh command.
func NewRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh <id>...",
		Short: "Force-refresh entities from the content API",
		Long: `Re-fetch the named entities from the content API, persist them, and
stamp them fresh. Post ids use the composite authorId:postId form.

Example:
  quill refresh alice bob
  quill refresh alice:3f9c`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefresh(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runRefresh(rootOpts *RootOptions, ids []string, cmd *cobra.Command) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	client, err := nexus.NewHTTPClient(cfg.NexusURL, nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "content API client", err)
	}

	tracker := ttl.New(st, client, persist.New(st))
	if err := tracker.ForceRefresh(cmd.Context(), ids, cfg.ViewerID); err != nil {
		return WrapExitError(ExitFailure, "refresh", err)
	}

	formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(fmt.Sprintf("refreshed %d entities", len(ids)))
}
