package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quillsocial/quill/internal/model"
	"github.com/quillsocial/quill/internal/persist"
	"github.com/quillsocial/quill/internal/store"
)

// bootstrapPayload is the JSON shape of a bootstrap file.
type bootstrapPayload struct {
	Users []model.Entity `json:"users"`
	Posts []model.Entity `json:"posts"`
	Lists []struct {
		StreamID string   `json:"stream_id"`
		IDs      []string `json:"ids"`
	} `json:"lists"`
}

// NewBootstrapCommand creates the bootstrap command.
func NewBootstrapCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap <payload.json>",
		Short: "Load an initial full-state payload into the cache",
		Long: `Load a bootstrap payload (users, posts, and list streams) from a
JSON file into the local cache in one pass.

Example:
  quill bootstrap ./bootstrap.json
  quill bootstrap --config quill.yaml ./bootstrap.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runBootstrap(rootOpts *RootOptions, path string, cmd *cobra.Command) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "read bootstrap payload", err)
	}
	var payload bootstrapPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return WrapExitError(ExitCommandError, "parse bootstrap payload", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	boot := persist.Bootstrap{Users: payload.Users, Posts: payload.Posts}
	for _, list := range payload.Lists {
		boot.Lists = append(boot.Lists, persist.StreamWrite{StreamID: list.StreamID, IDs: list.IDs})
	}

	svc := persist.New(st)
	if err := svc.PersistBootstrap(cmd.Context(), boot); err != nil {
		return WrapExitError(ExitFailure, "persist bootstrap", err)
	}

	formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(fmt.Sprintf("bootstrapped %d users, %d posts, %d lists",
		len(payload.Users), len(payload.Posts), len(payload.Lists)))
}
