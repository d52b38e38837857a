package cmd

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"text/tabwriter"

	"github.com/JakeFAU/spinbot/internal/crawler"
)

// printReport writes one line per fetch followed by totals.
func printReport(w io.Writer, report crawler.Report) {
	fmt.Fprintf(w, "*** Report %s ***\n", report.RunID)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "URL\tSTATUS\tBYTES\tLINKS\tTRIES\tDETAIL")
	outcomes := make(map[string]int)
	var bytes int64
	for _, s := range report.Stats {
		outcomes[s.Outcome()]++
		bytes += int64(s.Size)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d/%d\t%d\t%s\n",
			s.URL, statusColumn(s), s.Size, s.NumNewURLs, s.NumURLs, s.Attempts, detailColumn(s))
	}
	_ = tw.Flush()

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range slices.Sorted(maps.Keys(outcomes)) {
		fmt.Fprintf(tw, "%s\t%d\n", name, outcomes[name])
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "Finished %d urls (%d bytes) in %.3f secs\n",
		len(report.Stats), bytes, report.Elapsed().Seconds())
	fmt.Fprintf(w, "Items: %d\n", report.Items)
	if report.Interrupted {
		fmt.Fprintln(w, "Interrupted: partial results")
	}
}

func statusColumn(s crawler.FetchStatistic) string {
	if s.Status == 0 {
		return "-"
	}
	return strconv.Itoa(s.Status)
}

func detailColumn(s crawler.FetchStatistic) string {
	switch {
	case s.Err != nil && s.NextURL != "":
		return fmt.Sprintf("-> %s (%v)", s.NextURL, s.Err)
	case s.Err != nil:
		return s.Err.Error()
	case s.NextURL != "":
		return "-> " + s.NextURL
	case s.Handler != "":
		return "handler=" + s.Handler
	default:
		return s.ContentType
	}
}
