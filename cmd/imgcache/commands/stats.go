package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show disk cache usage",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openSession(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	st := s.loader.Stats()
	fmt.Fprintf(out, "memory capacity: %s\n", humanize.IBytes(uint64(st.Memory.Capacity)))
	if st.Memory.LimitBytes > 0 {
		fmt.Fprintf(out, "memory limit:    %s\n", humanize.IBytes(uint64(st.Memory.LimitBytes)))
	}
	if !st.DiskEnabled {
		if derr := s.loader.DiskError(); derr != nil {
			fmt.Fprintf(out, "disk: unavailable (%v)\n", derr)
		} else {
			fmt.Fprintln(out, "disk: disabled")
		}
		return nil
	}
	fmt.Fprintf(out, "disk entries:    %d\n", st.Disk.Entries)
	fmt.Fprintf(out, "disk usage:      %s / %s\n",
		humanize.IBytes(uint64(st.Disk.SizeBytes)), humanize.IBytes(uint64(st.Disk.Capacity)))
	return nil
}
