package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/usbillsim/billsim/internal/comparator"
	"github.com/usbillsim/billsim/internal/config"
	"github.com/usbillsim/billsim/internal/indexer"
	"github.com/usbillsim/billsim/internal/orchestrator"
	"github.com/usbillsim/billsim/internal/pathresolver"
	"github.com/usbillsim/billsim/internal/searchclient"
	"github.com/usbillsim/billsim/internal/similarity"
	"github.com/usbillsim/billsim/internal/store"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "billsim",
		Short:   "Legislative bill similarity computation",
		Version: version,
		Long: `billsim parses bill XML, queries a full-text search index for
more-like-this section matches, folds the results into bill-to-bill
similarity edges, and persists them.`,
	}

	rootCmd.AddCommand(compareCmd())
	rootCmd.AddCommand(indexCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// compareCmd runs the full parse -> query -> fold -> persist -> sweep
// pipeline over the configured data root.
func compareCmd() *cobra.Command {
	var maxBills int

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compute bill-to-bill similarity for the configured data root",
		Long: `compare enumerates bill XML under BILL_DATA_ROOT, queries the search
engine for more-like-this section matches, aggregates the hits into
bill-to-bill edges, and persists them under a fresh currency epoch. Stale
edges from prior epochs are swept once the run completes.

Example:
  billsim compare
  billsim compare --max 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				logConfigError(err)
				os.Exit(2)
			}

			o, err := buildOrchestrator(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			notifyShutdown(cancel)

			log.Printf("billsim compare starting (data_root=%s, workers=%d, max=%d)",
				cfg.DataRoot, cfg.WorkerCount, maxBills)

			result, err := o.Run(ctx, cfg.DataRoot, maxBills)
			if err != nil {
				return fmt.Errorf("compare: %w", err)
			}

			log.Printf("compare complete: processed=%d failed=%d bill_to_bill=%d comparator_calls=%d elapsed=%s",
				result.BillsProcessed, result.BillsFailed, result.BillToBillWritten,
				result.ComparatorInvocations, result.Elapsed.Round(time.Millisecond))
			for kind, n := range result.FailuresByKind {
				log.Printf("  skipped (%s): %d", kind, n)
			}
			for _, e := range result.Errors {
				log.Printf("  error: %v", e)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxBills, "max", -1, "maximum number of bills to process, randomly sampled; -1 processes all")
	return cmd
}

// defaultIndexMapping declares "sections" as a nested field, the shape the
// more-like-this queries in the query package depend on for inner_hits.
const defaultIndexMapping = `{
  "mappings": {
    "properties": {
      "id":          {"type": "keyword"},
      "congress":    {"type": "keyword"},
      "session":     {"type": "keyword"},
      "dctitle":     {"type": "text"},
      "date":        {"type": "keyword"},
      "legisnum":    {"type": "keyword"},
      "billnumber":  {"type": "keyword"},
      "billversion": {"type": "keyword"},
      "headers":     {"type": "text"},
      "sections": {
        "type": "nested",
        "properties": {
          "section_id":     {"type": "keyword"},
          "section_number": {"type": "keyword"},
          "section_header": {"type": "text"},
          "section_text":   {"type": "text"},
          "section_length": {"type": "integer"},
          "section_xml":    {"type": "text", "index": false}
        }
      }
    }
  }
}`

// indexCmd creates the search index, matching the schema the compare
// pipeline's nested queries expect, then pushes every discoverable bill's
// document into it.
func indexCmd() *cobra.Command {
	var recreate bool
	var reindex bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Create the search index and index all discoverable bills",
		Long: `index creates the search index (if it does not already exist) and then
indexes every bill XML file discoverable under BILL_DATA_ROOT. Without
--reindex, a bill whose document already exists in the index is left
untouched; with --reindex every bill is pushed again regardless.

Example:
  billsim index
  billsim index --recreate --reindex`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				logConfigError(err)
				os.Exit(2)
			}

			search, err := newSearchClient(cfg)
			if err != nil {
				return err
			}

			ctx := context.Background()
			if err := search.CreateIndex(ctx, json.RawMessage(defaultIndexMapping), recreate); err != nil {
				return fmt.Errorf("index: %w", err)
			}
			log.Printf("index %q ready at %s", cfg.SearchIndex, cfg.SearchEngineURL)

			ix, resolver, err := buildIndexer(cfg, search)
			if err != nil {
				return err
			}

			billPaths, err := resolver.Enumerate(cfg.DataRoot)
			if err != nil {
				return fmt.Errorf("index: enumerating bills: %w", err)
			}

			var indexed, failed int
			for _, bp := range billPaths {
				if err := ix.IndexBill(ctx, bp.FilePath, bp.BillnumberVersion, reindex); err != nil {
					failed++
					log.Printf("index: failed to index %s: %v", bp.BillnumberVersion, err)
					continue
				}
				indexed++
			}
			log.Printf("index complete: indexed=%d failed=%d", indexed, failed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&recreate, "recreate", false, "delete and recreate the index if it already exists")
	cmd.Flags().BoolVar(&reindex, "reindex", false, "push every bill's document even if it is already indexed")
	return cmd
}

func logConfigError(err error) {
	fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
}

func newSearchClient(cfg *config.Config) (*searchclient.Client, error) {
	opts := []searchclient.Option{searchclient.WithIndex(cfg.SearchIndex)}
	if cfg.SearchEngineKey != "" {
		opts = append(opts, searchclient.WithAPIKey(cfg.SearchEngineKey))
	}
	return searchclient.New(cfg.SearchEngineURL, opts...)
}

func buildOrchestrator(cfg *config.Config) (*orchestrator.Orchestrator, error) {
	search, err := newSearchClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("building search client: %w", err)
	}

	engine := similarity.New(search, similarity.Options{
		ScoreMode: cfg.ScoreMode,
		MinScore:  cfg.MinScore,
		Size:      cfg.MaxBillsPerSection,
	})
	resolver := pathresolver.New(cfg.DataRoot, cfg.Layout)

	db, err := store.Connect(store.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	st := store.New(db)

	var cmp *comparator.Bridge
	if cfg.ComparatorPath != "" {
		cmp = comparator.New(cfg.ComparatorPath, cfg.ComparatorTimeout)
	}

	return orchestrator.New(resolver, engine, cmp, st, cfg.WorkerCount), nil
}

// buildIndexer connects and migrates the store and wires it with the given
// search client into an Indexer, along with the resolver used to enumerate
// bills under the configured data root.
func buildIndexer(cfg *config.Config, search *searchclient.Client) (*indexer.Indexer, *pathresolver.Resolver, error) {
	db, err := store.Connect(store.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	st := store.New(db)

	resolver := pathresolver.New(cfg.DataRoot, cfg.Layout)
	return indexer.New(search, st), resolver, nil
}

// notifyShutdown cancels ctx on SIGINT/SIGTERM, mirroring the ingestor
// command's graceful-shutdown handling.
func notifyShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("shutdown signal received, stopping after in-flight bills drain...")
		cancel()
	}()
}
