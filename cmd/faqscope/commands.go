package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/faqscope/internal/config"
	"github.com/kalambet/faqscope/internal/ingest"
	"github.com/kalambet/faqscope/internal/pipeline"
	"github.com/kalambet/faqscope/internal/storage"
)

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import messages or FAQs from JSON exports",
	Long: `Import messages or FAQs from JSON exports. A file may hold a JSON array or
a stream of JSON objects. HTML markup is stripped.

Examples:
  faqscope import messages --file ./messages.json
  faqscope import faqs --file ./faqs.json
  cat export.jsonl | faqscope import messages --file -`,
}

var importMessagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Import support messages ({id, text, created_at})",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, func(a *app, r io.Reader) (ingest.ImportStats, error) {
			recs, err := ingest.ReadMessages(r)
			if err != nil {
				return ingest.ImportStats{}, err
			}
			return ingest.ImportMessages(cmd.Context(), a.store, recs)
		})
	},
}

var importFAQsCmd = &cobra.Command{
	Use:   "faqs",
	Short: "Import FAQ entries ({id, question, answer})",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, func(a *app, r io.Reader) (ingest.ImportStats, error) {
			recs, err := ingest.ReadFAQs(r)
			if err != nil {
				return ingest.ImportStats{}, err
			}
			return ingest.ImportFAQs(cmd.Context(), a.store, recs)
		})
	},
}

func runImport(cmd *cobra.Command, load func(*app, io.Reader) (ingest.ImportStats, error)) error {
	file, _ := cmd.Flags().GetString("file")
	if file == "" {
		return fmt.Errorf("--file is required")
	}

	var r io.Reader = cmd.InOrStdin()
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("opening file: %w", err)
		}
		defer f.Close()
		r = f
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := load(a, r)
	if err != nil {
		return err
	}
	printSuccess("Imported %d records (%d skipped)", stats.Imported, stats.Skipped)
	if stats.Imported > 0 {
		printStep("Run `faqscope embed` to embed the new records")
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{importMessagesCmd, importFAQsCmd} {
		c.Flags().String("file", "", "JSON file to import, or - for stdin")
		importCmd.AddCommand(c)
	}
}

// --- embed ---

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed every message and FAQ that has no embedding yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ensureEngine(cmd.Context(), false); err != nil {
			return err
		}
		printStep("Embedding pending records with %s", a.cfg.Ollama.EmbedModel)
		stats, err := a.embedPending(cmd.Context())
		if err != nil {
			return err
		}
		printEmbedStats(stats)
		return nil
	},
}

func printEmbedStats(stats ingest.EmbedStats) {
	printSuccess("Embedded %d messages and %d FAQs (dimension %d)", stats.Messages, stats.FAQs, stats.Dim)
	if stats.Skipped > 0 {
		printWarning("%d vectors skipped: dimension mismatch", stats.Skipped)
	}
	if stats.Failed > 0 {
		printWarning("%d texts could not be embedded; run embed again to retry", stats.Failed)
	}
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one clustering pass in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		notes, _ := cmd.Flags().GetString("notes")
		embedFirst, _ := cmd.Flags().GetBool("embed")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ensureEngine(cmd.Context(), true); err != nil {
			return err
		}
		if embedFirst {
			printStep("Embedding pending records")
			stats, err := a.embedPending(cmd.Context())
			if err != nil {
				return err
			}
			printEmbedStats(stats)
		}

		p, err := a.pipeline()
		if err != nil {
			return err
		}
		printStep("Clustering")
		report, err := p.Run(cmd.Context(), notes)
		if errors.Is(err, pipeline.ErrInvalidInput) || errors.Is(err, pipeline.ErrNoClusters) {
			printWarning("Run aborted: %v", err)
			return err
		}
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	},
}

func printReport(r *pipeline.Report) {
	printSuccess("Run %s persisted in %s", r.RunID, r.Duration.Round(time.Millisecond))
	printStatus("Messages", "%d", r.Messages)
	printStatus("FAQs", "%d", r.FAQs)
	printStatus("Clusters", "%d (%d noise)", r.Clusters, r.Noise)
	printStatus("Persisted", "%d", r.Persisted)
	for _, f := range r.Failures {
		printWarning("cluster %d skipped: %v", f.Label, f.Err)
	}
}

func init() {
	runCmd.Flags().String("notes", "", "notes stored on the run")
	runCmd.Flags().Bool("embed", false, "embed pending records before clustering")
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and manage stored runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.store.ListRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			printWarning("No runs yet")
			return nil
		}
		writeRunsTable(cmd.OutOrStdout(), runs)
		return nil
	},
}

func writeRunsTable(w io.Writer, runs []storage.Run) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSTATE\tNOTES")
	for _, r := range runs {
		state := string(r.State)
		if r.State == storage.RunFailed && r.FailureReason != "" {
			state += " (" + r.FailureReason + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"), state, r.Notes)
	}
	tw.Flush()
}

var runsShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show the clusters of a run (default: latest persisted run)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var run storage.Run
		if len(args) == 0 {
			run, err = a.store.LatestRun(cmd.Context())
		} else {
			run, err = a.store.GetRun(cmd.Context(), args[0])
		}
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("run not found")
		}
		if err != nil {
			return err
		}

		results, err := a.store.ListClusterResults(cmd.Context(), run.ID)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"run": run, "clusters": results})
		}
		writeClusterTable(cmd.OutOrStdout(), run, results)
		return nil
	},
}

func writeClusterTable(w io.Writer, run storage.Run, results []storage.ClusterResult) {
	fmt.Fprintf(w, "Run %s (%s, %s)\n", run.ID, run.State, run.CreatedAt.Local().Format("2006-01-02 15:04"))
	if run.Notes != "" {
		fmt.Fprintf(w, "Notes: %s\n", run.Notes)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CLUSTER\tSIZE\tTOPIC\tFAQ\tSIM\tCOVERAGE\tSCORE")
	for _, r := range results {
		faq := r.MatchedFAQID
		if faq == "" {
			faq = "-"
		}
		topic := r.TopicLabel
		if topic == "" {
			topic = strings.Join(r.Keywords[:min(3, len(r.Keywords))], ", ")
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%.2f\t%s\t%d\n",
			r.ClusterLabel, r.MessageCount, topic, faq, r.Similarity,
			colorize(coverageColor(r.CoverageLabel), r.CoverageLabel), r.ResolutionScore)
	}
	tw.Flush()

	for _, r := range results {
		if r.Suggestion == nil {
			continue
		}
		fmt.Fprintf(w, "\nSuggested FAQ for cluster %d:\n  Q: %s\n  A: %s\n", r.ClusterLabel, r.Suggestion.Question, r.Suggestion.Answer)
	}
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the newest runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			return fmt.Errorf("pruning deletes run history; pass --confirm to proceed")
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.store.PruneRuns(cmd.Context(), keep)
		if err != nil {
			return err
		}
		printSuccess("Deleted %d runs, kept the newest %d", n, keep)
		return nil
	},
}

var runsTriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Queue a run on the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		notes, _ := cmd.Flags().GetString("notes")
		embedFirst, _ := cmd.Flags().GetBool("embed")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/runs", ingest.ClusterRunPayload{Notes: notes, EmbedFirst: embedFirst})
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Queued job %s", result["job_id"])
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs")
	runsShowCmd.Flags().Bool("json", false, "print the run as JSON")
	runsPruneCmd.Flags().Int("keep", 10, "number of newest runs to keep")
	runsPruneCmd.Flags().Bool("confirm", false, "confirm deletion")
	runsTriggerCmd.Flags().String("notes", "", "notes stored on the run")
	runsTriggerCmd.Flags().Bool("embed", false, "embed pending records before clustering")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsPruneCmd)
	runsCmd.AddCommand(runsTriggerCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so the default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configSetCmd.Long = "Set a configuration value.\n\nValid keys:\n  " + strings.Join(config.ValidKeys(), "\n  ")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
