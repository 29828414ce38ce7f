package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/finfuse/internal/source"
)

var sourcesFormat string

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show adapter availability and quota state",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("fuse"); err != nil {
			return err
		}
		return writeStatuses(cmd.OutOrStdout(), sourcesFormat, source.FromConfig(cfg.Sources).Statuses())
	},
}

func init() {
	sourcesCmd.Flags().StringVar(&sourcesFormat, "format", "text", "output format: text or json")
	rootCmd.AddCommand(sourcesCmd)
}

func writeStatuses(w io.Writer, format string, statuses []source.Status) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(statuses), "sources: encode")
	case "", "text":
	default:
		return eris.Errorf("sources: unknown format %q", format)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "source\tavailable\tstate\tused\tdaily_limit") //nolint:errcheck
	for _, st := range statuses {
		state, used, limit := "-", "-", "-"
		if q := st.Quota; q != nil {
			state = string(q.State)
			used = fmt.Sprint(q.DailyCount)
			limit = "unlimited"
			if q.DailyLimit > 0 {
				limit = fmt.Sprint(q.DailyLimit)
			}
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", st.Source, st.Available, state, used, limit) //nolint:errcheck
	}
	return eris.Wrap(tw.Flush(), "sources: flush")
}
