package cli

import (
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ewilliams-labs/duet/internal/core/domain"
)

type profileOutput struct {
	PlaylistRef string              `json:"playlist_id"`
	Dimensions  []string            `json:"dimensions"`
	Profile     domain.MusicProfile `json:"profile"`
}

func newProfileCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "profile <playlist>",
		Short: "Build and print the music profile of a playlist",
		Long: `Fetch the audio features of every track in a Spotify playlist and print
their mean. The playlist may be an id, a spotify:playlist URI or an
open.spotify.com link. Nothing is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(true)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			d, err := buildDeps(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer d.Close()

			profile, err := d.matchmaker.BuildProfile(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(profileOutput{
				PlaylistRef: args[0],
				Dimensions:  domain.DescriptorFields,
				Profile:     profile,
			})
		},
	}
}
