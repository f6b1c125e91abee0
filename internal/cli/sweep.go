package cli

import (
	"github.com/spf13/cobra"

	"github.com/quillsocial/quill/internal/nexus"
	"github.com/quillsocial/quill/internal/persist"
	"github.com/quillsocial/quill/internal/refresher"
	"github.com/quillsocial/quill/internal/store"
	"github.com/quillsocial/quill/internal/ttl"
)

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one staleness sweep in the foreground",
		Long: `Run a single refresher pass: every tracked id and cached stream
member is checked against the configured TTL and stale ones are
re-fetched. This is the same sweep the cron schedule runs in a
long-lived process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(rootOpts, cmd)
		},
	}
	return cmd
}

func runSweep(rootOpts *RootOptions, cmd *cobra.Command) error {
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
	r := refresher.New(st, tracker, cfg.TTL(), cfg.ViewerID, refresher.WithSchedule(cfg.RefreshCron))
	if err := r.Sweep(cmd.Context()); err != nil {
		return WrapExitError(ExitFailure, "sweep", err)
	}

	formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success("sweep complete")
}
