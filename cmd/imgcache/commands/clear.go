package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear [URI...]",
	Short: "Remove cached images",
	Long: `Remove the given URIs from the disk cache, or every entry when no URI
is given.`,
	RunE: runClear,
}

func runClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openSession(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	before := s.loader.Stats().Disk
	if len(args) == 0 {
		if err := s.loader.Clear(); err != nil {
			return err
		}
	} else {
		for _, uri := range args {
			if err := s.loader.Remove(uri); err != nil {
				return fmt.Errorf("remove %s: %w", uri, err)
			}
		}
	}
	after := s.loader.Stats().Disk

	fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries (%s)\n",
		before.Entries-after.Entries, humanize.IBytes(uint64(before.SizeBytes-after.SizeBytes)))
	return nil
}
