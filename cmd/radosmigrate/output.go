package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/andresuchdata/radosmigrate/internal/domain"
)

func poolStatus(r domain.ReplicationReport) string {
	switch {
	case r.Skipped:
		return "skipped: " + r.PoolError
	case r.Interrupted:
		return "interrupted"
	case r.ListError != "":
		return "listing failed: " + r.ListError
	case r.Failed > 0:
		return "partial"
	default:
		return "ok"
	}
}

func printSummary(w io.Writer, s domain.RunSummary) {
	mode := ""
	if s.DryRun {
		mode = " [dry run]"
	}
	fmt.Fprintf(w, "Run %s %s: %s -> %s%s\n", s.ID, s.State.Label(), s.Source, s.Destination, mode)
	if s.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", s.Error)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "POOL\tATTEMPTED\tSUCCEEDED\tFAILED\tBYTES\tSTATUS")
	for _, r := range s.Pools {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n", r.Pool, r.Attempted, r.Succeeded, r.Failed, r.Bytes, poolStatus(r))
	}
	attempted, succeeded, failed, bytes := s.Totals()
	fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t%d\t%s\n", attempted, succeeded, failed, bytes, elapsed(s))
	_ = tw.Flush()

	for _, r := range s.Pools {
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  %s/%s: %s\n", r.Pool, f.Key, f.Error)
		}
	}
}

func printRuns(w io.Writer, runs []domain.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATE\tPOOLS\tOBJECTS\tFAILED\tBYTES\tSOURCE\tDESTINATION")
	for _, s := range runs {
		attempted, _, failed, bytes := s.Totals()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			s.ID, s.StartedAt.Local().Format("2006-01-02 15:04:05"), s.State,
			len(s.Pools), attempted, failed, bytes, s.Source, s.Destination)
	}
	_ = tw.Flush()
}

func printPools(w io.Writer, pools []domain.PoolDescriptor) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "POOL\tTYPE\tPG_NUM\tPGP_NUM")
	for _, p := range pools {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, orDash(string(p.Type)), intOrDash(p.PGNum), intOrDash(p.PGPNum))
	}
	_ = tw.Flush()
}

func elapsed(s domain.RunSummary) string {
	if s.FinishedAt.IsZero() || s.StartedAt.IsZero() {
		return ""
	}
	return s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func intOrDash(n int) string {
	if n == 0 {
		return "-"
	}
	return fmt.Sprint(n)
}
