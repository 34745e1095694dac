// Package comparator invokes the external pairwise bill comparator
// executable and parses its delimited JSON output into typed results.
package comparator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/usbillsim/billsim/internal/billerrs"
)

const compareMatrixDelimiter = ":compareMatrix:"

// Cell is one entry of the comparator's output matrix: the pairwise score
// between the two documents named in ComparedDocs ("<bnvA>-<bnvB>") and the
// reasons the comparator attributes the match to.
type Cell struct {
	ComparedDocs string  `json:"ComparedDocs"`
	Score        float64 `json:"Score"`
	ScoreOther   float64 `json:"ScoreOther"`
	Explanation  string  `json:"Explanation"`
}

// Result is one accepted Cell, split into its query/target identifiers and
// trimmed reason tags.
type Result struct {
	BillnumberVersion   string
	BillnumberVersionTo string
	Score               float64
	ScoreOther          float64
	Reasons             []string
}

// Bridge invokes the comparator executable under a wall-clock timeout.
type Bridge struct {
	ExecutablePath string
	Timeout        time.Duration
}

// New constructs a Bridge for the given executable path and timeout.
func New(executablePath string, timeout time.Duration) *Bridge {
	return &Bridge{ExecutablePath: executablePath, Timeout: timeout}
}

// Compare runs the comparator over absPaths and returns the Result rows
// whose ComparedDocs entry starts with queryBillnumberVersion; every other
// row in the matrix is ignored. On timeout the subprocess is killed and an
// empty result is returned, wrapping billerrs.ErrTimeout.
func (b *Bridge) Compare(ctx context.Context, queryBillnumberVersion string, absPaths []string) ([]Result, error) {
	if b.ExecutablePath == "" {
		return nil, fmt.Errorf("comparator: %w: executable path not configured", billerrs.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.ExecutablePath, "-abspaths", strings.Join(absPaths, ","))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("comparator: %w after %s: %s", billerrs.ErrTimeout, b.Timeout, stderr.String())
	}
	if err != nil {
		return nil, fmt.Errorf("comparator: run failed: %w (stderr: %s)", err, stderr.String())
	}

	matrix, err := parseCompareMatrix(stdout.String())
	if err != nil {
		return nil, fmt.Errorf("comparator: %w: %v", billerrs.ErrParse, err)
	}

	var results []Result
	for _, row := range matrix {
		for _, cell := range row {
			if !strings.HasPrefix(cell.ComparedDocs, queryBillnumberVersion) {
				continue
			}
			parts := strings.SplitN(cell.ComparedDocs, "-", 2)
			if len(parts) != 2 || parts[0] != queryBillnumberVersion {
				continue
			}
			results = append(results, Result{
				BillnumberVersion:   parts[0],
				BillnumberVersionTo: parts[1],
				Score:               cell.Score,
				ScoreOther:          cell.ScoreOther,
				Reasons:             splitReasons(cell.Explanation),
			})
		}
	}
	return results, nil
}

// parseCompareMatrix extracts the JSON array framed by the
// ":compareMatrix:" delimiter in the comparator's stdout. Output may carry
// leading log lines before the opening delimiter and a trailing delimiter
// after the JSON; only the framed segment is decoded.
func parseCompareMatrix(stdout string) ([][]Cell, error) {
	parts := strings.Split(stdout, compareMatrixDelimiter)
	if len(parts) < 2 {
		return nil, fmt.Errorf("output missing %q delimiter", compareMatrixDelimiter)
	}

	var matrix [][]Cell
	if err := json.Unmarshal([]byte(parts[1]), &matrix); err != nil {
		return nil, fmt.Errorf("decoding compare matrix: %w", err)
	}
	return matrix, nil
}

// splitReasons splits a comma-joined Explanation string into trimmed,
// non-empty reason tags.
func splitReasons(explanation string) []string {
	var reasons []string
	for _, r := range strings.Split(explanation, ",") {
		r = strings.TrimSpace(r)
		if r != "" {
			reasons = append(reasons, r)
		}
	}
	return reasons
}
