package cli

import (
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ewilliams-labs/duet/internal/core/domain"
)

func newRankCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rank <user-id>",
		Short: "Print ranked matches for a stored user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(false)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			d, err := buildDeps(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer d.Close()

			matches, err := d.matchmaker.Rank(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if matches == nil {
				matches = []domain.MatchCandidate{}
			}
			return enc.Encode(matches)
		},
	}
}
