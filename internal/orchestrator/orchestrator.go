// Package orchestrator drives the similarity pipeline over a sampled or
// exhaustive set of bills with bounded concurrency, one worker per bill,
// isolating per-bill failures and sweeping stale rows at the end of a run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/usbillsim/billsim/internal/billerrs"
	"github.com/usbillsim/billsim/internal/comparator"
	"github.com/usbillsim/billsim/internal/pathresolver"
	"github.com/usbillsim/billsim/internal/similarity"
	"github.com/usbillsim/billsim/internal/store"
)

// Orchestrator processes bills end-to-end: parse, query, fold, persist.
type Orchestrator struct {
	Resolver    *pathresolver.Resolver
	Engine      *similarity.Engine
	Comparator  *comparator.Bridge // nil disables the comparator stage
	Store       *store.Store
	WorkerCount int
}

// New constructs an Orchestrator. WorkerCount defaults to 4 when <= 0.
func New(resolver *pathresolver.Resolver, engine *similarity.Engine, cmp *comparator.Bridge, st *store.Store, workerCount int) *Orchestrator {
	if workerCount <= 0 {
		workerCount = 4
	}
	return &Orchestrator{
		Resolver:    resolver,
		Engine:      engine,
		Comparator:  cmp,
		Store:       st,
		WorkerCount: workerCount,
	}
}

// Result carries counters from a Run, mirroring the ingestor's result shape.
type Result struct {
	BillsProcessed        int
	BillsFailed           int
	BillToBillWritten     int
	ComparatorInvocations int
	FailuresByKind        map[string]int
	Elapsed               time.Duration
	Errors                []error
}

// failureKind buckets a per-bill error by its sentinel for the run summary.
func failureKind(err error) string {
	switch {
	case errors.Is(err, billerrs.ErrParse):
		return "parse"
	case errors.Is(err, billerrs.ErrValidation):
		return "validation"
	case errors.Is(err, billerrs.ErrQuery):
		return "query"
	case errors.Is(err, billerrs.ErrTimeout):
		return "timeout"
	case errors.Is(err, billerrs.ErrPersistence):
		return "persistence"
	case errors.Is(err, billerrs.ErrNotFound):
		return "not_found"
	default:
		return "other"
	}
}

// Run enumerates every discoverable bill under root, processes up to
// maxBills of them (a random sample when maxBills > 0, all of them
// otherwise) with bounded concurrency, and sweeps stale rows at the end.
func (o *Orchestrator) Run(ctx context.Context, root string, maxBills int) (*Result, error) {
	started := time.Now()

	epochID, err := o.Store.CreateEpoch(ctx, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: creating epoch: %w", err)
	}

	billPaths, err := o.Resolver.Enumerate(root)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: enumerating bills: %w", err)
	}

	if maxBills > 0 && maxBills < len(billPaths) {
		rand.Shuffle(len(billPaths), func(i, j int) {
			billPaths[i], billPaths[j] = billPaths[j], billPaths[i]
		})
		billPaths = billPaths[:maxBills]
	}

	result := &Result{FailuresByKind: map[string]int{}}
	var mu sync.Mutex
	var wg sync.WaitGroup

	sem := semaphore.NewWeighted(int64(o.WorkerCount))

	for i, bp := range billPaths {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled: stop scheduling new work, let in-flight
			// workers drain.
			break
		}

		wg.Add(1)
		go func(i int, bp pathresolver.BillPath) {
			defer wg.Done()
			defer sem.Release(1)

			if i%100 == 0 {
				log.Printf("orchestrator: processed %d bills", i)
			}

			written, comparatorInvoked, err := o.processBill(ctx, epochID, bp)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.BillsFailed++
				result.FailuresByKind[failureKind(err)]++
				result.Errors = append(result.Errors, fmt.Errorf("%s: %w", bp.BillnumberVersion, err))
				return
			}
			result.BillsProcessed++
			result.BillToBillWritten += written
			if comparatorInvoked {
				result.ComparatorInvocations++
			}
		}(i, bp)
	}

	wg.Wait()
	result.Elapsed = time.Since(started)

	if err := o.Store.Sweep(ctx, epochID); err != nil {
		return result, fmt.Errorf("orchestrator: sweep failed: %w", err)
	}

	return result, nil
}

// retryPersist runs fn and, on a persistence error, retries it once before
// giving up. Transient constraint violations on concurrent upserts of the
// same lazily-created row resolve on the second attempt.
func retryPersist(fn func() error) error {
	err := fn()
	if err == nil || !errors.Is(err, billerrs.ErrPersistence) {
		return err
	}
	log.Printf("orchestrator: persistence error, retrying once: %v", err)
	return fn()
}

// processBill runs one bill through parse -> query -> fold -> persist,
// then optionally invokes the comparator over the folded targets. It
// returns the number of BillToBill rows written and whether the comparator
// stage ran.
func (o *Orchestrator) processBill(ctx context.Context, epochID uint, bp pathresolver.BillPath) (int, bool, error) {
	parts, err := pathresolver.SplitIdentifier(bp.BillnumberVersion)
	if err != nil {
		return 0, false, fmt.Errorf("invalid billnumber_version %q: %w", bp.BillnumberVersion, err)
	}

	bs, err := o.Engine.BillSimilarSections(ctx, bp.FilePath, bp.BillnumberVersion)
	if err != nil {
		return 0, false, fmt.Errorf("similarity query: %w", err)
	}

	billID, err := o.Store.UpsertBill(ctx, parts.Billnumber, parts.Version, bs.Length, map[string]interface{}{
		"source_path": bp.FilePath,
		"layout":      string(o.Resolver.Layout),
	})
	if err != nil {
		return 0, false, fmt.Errorf("upserting bill: %w", err)
	}

	b2bs := similarity.FoldToBillToBill(bs)
	if len(b2bs) == 0 {
		return 0, false, nil
	}

	targets := make([]string, 0, len(b2bs))
	for _, b2b := range b2bs {
		targets = append(targets, b2b.BillnumberVersionTo)
	}
	for _, target := range targets {
		if p, err := pathresolver.SplitIdentifier(target); err == nil {
			// Lazily create a placeholder row; length is backfilled the
			// next time that bill is itself the query bill.
			if _, err := o.Store.UpsertBill(ctx, p.Billnumber, p.Version, 0, nil); err != nil {
				return 0, false, fmt.Errorf("upserting target bill %s: %w", target, err)
			}
		}
	}

	billIDs, err := o.Store.BillIDs(ctx, targets, func(bnv string) (string, string, error) {
		p, err := pathresolver.SplitIdentifier(bnv)
		if err != nil {
			return "", "", err
		}
		return p.Billnumber, p.Version, nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("resolving target bill ids: %w", err)
	}

	inputs := make([]store.BillToBillInput, 0, len(b2bs))
	var sectionEdges []store.SectionEdgeInput
	for _, b2b := range b2bs {
		targetID, ok := billIDs[b2b.BillnumberVersionTo]
		if !ok {
			continue
		}
		inputs = append(inputs, store.BillToBillInput{
			BillID:        billID,
			BillToID:      targetID,
			ScoreES:       b2b.ScoreES,
			IdentifiedBy:  "searchengine",
			SectionsNum:   b2b.SectionsNum,
			SectionsMatch: b2b.SectionsMatch,
		})

		for _, sec := range b2b.Sections {
			if len(sec.Similar) == 0 {
				continue
			}
			hit := sec.Similar[0]
			sectionEdges = append(sectionEdges, store.SectionEdgeInput{
				BillID:   billID,
				BillToID: targetID,
				Section: store.SectionInput{
					BillnumberVersion: sec.BillnumberVersion,
					SectionIDAttr:     sec.SectionID,
					Label:             sec.Label,
					Header:            sec.Header,
					Length:            sec.Length,
				},
				SectionTo: store.SectionInput{
					BillnumberVersion: hit.BillnumberVersion,
					SectionIDAttr:     hit.SectionID,
					Label:             hit.Label,
					Header:            hit.Header,
					Length:            hit.Length,
				},
				Score: hit.ScoreES,
			})
		}
	}
	if len(inputs) == 0 {
		return 0, false, nil
	}

	err = retryPersist(func() error {
		return o.Store.UpsertSimilarityRun(ctx, epochID, inputs, sectionEdges)
	})
	if err != nil {
		return 0, false, fmt.Errorf("upserting similarity run: %w", err)
	}

	comparatorInvoked := false
	if o.Comparator != nil {
		comparatorInvoked = true
		if err := o.runComparator(ctx, epochID, bp, billID, billIDs, b2bs); err != nil {
			log.Printf("orchestrator: comparator stage failed for %s: %v", bp.BillnumberVersion, err)
		}
	}

	return len(inputs), comparatorInvoked, nil
}

// runComparator invokes the comparator over the query bill and its folded
// targets, then upserts the symmetric scores it returns under the same
// epoch, merging reasons with whatever the search-engine fold stage wrote.
func (o *Orchestrator) runComparator(ctx context.Context, epochID uint, bp pathresolver.BillPath, billID uint, billIDs map[string]uint, b2bs []similarity.BillToBill) error {
	paths := []string{bp.FilePath}
	for _, b2b := range b2bs {
		if path, err := o.Resolver.PathFor(b2b.BillnumberVersionTo); err == nil {
			paths = append(paths, path)
		}
	}
	paths = absPaths(paths)

	results, err := o.Comparator.Compare(ctx, bp.BillnumberVersion, paths)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return nil
	}

	inputs := make([]store.BillToBillInput, 0, len(results))
	for _, r := range results {
		targetID, ok := billIDs[r.BillnumberVersionTo]
		if !ok {
			continue
		}
		inputs = append(inputs, store.BillToBillInput{
			BillID:       billID,
			BillToID:     targetID,
			Score:        r.Score,
			ScoreTo:      r.ScoreOther,
			Reasons:      r.Reasons,
			IdentifiedBy: "comparator",
		})
	}
	if len(inputs) == 0 {
		return nil
	}
	return retryPersist(func() error {
		return o.Store.UpsertBillToBill(ctx, epochID, inputs)
	})
}

func absPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			out = append(out, abs)
		} else {
			out = append(out, p)
		}
	}
	return out
}
