package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"focuslens/internal/report"

	sqlitestore "focuslens/internal/storage/sqlite"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize recorded time per category and application",
	Run: func(cmd *cobra.Command, args []string) {
		days, _ := cmd.Flags().GetInt("days")
		format, _ := cmd.Flags().GetString("format")
		top, _ := cmd.Flags().GetInt("top")

		path := settings().DatabasePath
		if _, err := os.Stat(path); os.IsNotExist(err) {
			log.Fatalf("Error: Database file not found at %s. Ensure the focuslens daemon has run or specify path with --db.", path)
		} else if err != nil {
			log.Fatalf("Error accessing database file %s: %v", path, err)
		}

		endTime := time.Now()
		startTime := endTime.AddDate(0, 0, -days)

		store := sqlitestore.NewSQLiteStore(path)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := store.Init(ctx); err != nil {
			log.Fatalf("Failed to initialize storage connection: %v", err)
		}
		defer store.Close()

		segments, err := store.GetSegments(ctx, startTime, endTime)
		if err != nil {
			log.Fatalf("Failed to fetch segments: %v", err)
		}

		r := report.Build(segments, startTime, endTime, top)
		if err := writeReport(os.Stdout, r, resolveFormat(format, os.Stdout)); err != nil {
			log.Fatalf("Failed to write report: %v", err)
		}
	},
}

// resolveFormat turns "auto" into a table for terminals and JSON otherwise.
func resolveFormat(format string, out *os.File) string {
	format = strings.ToLower(format)
	if format != "auto" {
		return format
	}
	if term.IsTerminal(int(out.Fd())) {
		return "table"
	}
	return "json"
}

func writeReport(w io.Writer, r report.Report, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case "table":
		return writeTable(w, r)
	default:
		return fmt.Errorf("unknown format %q (want table, json or yaml)", format)
	}
}

func writeTable(w io.Writer, r report.Report) error {
	fmt.Fprintf(w, "FocusLens report %s to %s (%d sessions)\n\n",
		r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"), r.Sessions)
	if len(r.Categories) == 0 {
		fmt.Fprintln(w, "No activity recorded for the specified period.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tTIME\tSEGMENTS\tKEYSTROKES")
	for _, c := range r.Categories {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", c.Category, report.FormatDuration(c.Duration), c.Segments, c.Keystrokes)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "APPLICATION\tTIME")
	for _, a := range r.Apps {
		fmt.Fprintf(tw, "%s\t%s\n", a.AppName, report.FormatDuration(a.Duration))
	}
	return tw.Flush()
}
