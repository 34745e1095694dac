// billmeta prints the parsed metadata of one or more bill XML files as
// JSON, for checking what the indexer would see before pushing anything.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/usbillsim/billsim/internal/billxml"
	"github.com/usbillsim/billsim/internal/pathresolver"
)

// billMeta is the printed shape: bill metadata plus a per-section summary,
// without the full section text.
type billMeta struct {
	Path        string        `json:"path"`
	Congress    string        `json:"congress"`
	Session     string        `json:"session"`
	DCTitle     string        `json:"dctitle"`
	Date        string        `json:"date,omitempty"`
	Legisnum    string        `json:"legisnum"`
	Length      int           `json:"length"`
	SectionsNum int           `json:"sections_num"`
	Sections    []sectionMeta `json:"sections"`
}

type sectionMeta struct {
	SectionID string `json:"section_id"`
	Number    string `json:"section_number"`
	Header    string `json:"section_header"`
	Length    int    `json:"section_length"`
}

func main() {
	var root string
	var layout string

	cmd := &cobra.Command{
		Use:   "billmeta <path-or-billnumber_version> ...",
		Short: "Print parsed bill metadata as JSON",
		Long: `billmeta parses each argument as a bill XML file and prints its metadata
and section summary as JSON. An argument that is not an existing file is
treated as a billnumber_version identifier and resolved against --root.

Example:
  billmeta data/117/bills/hr200/BILLS-117hr200ih.xml
  billmeta --root ./data 117hr200ih`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := pathresolver.New(root, pathresolver.Layout(layout))
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")

			for _, arg := range args {
				path := arg
				if _, err := os.Stat(path); err != nil {
					resolved, rerr := resolver.PathFor(arg)
					if rerr != nil {
						return fmt.Errorf("billmeta: %q is neither a file nor a bill identifier: %w", arg, rerr)
					}
					path = resolved
				}

				bill, err := billxml.Parse(path)
				if err != nil {
					return fmt.Errorf("billmeta: %w", err)
				}

				meta := billMeta{
					Path:        path,
					Congress:    bill.Congress,
					Session:     bill.Session,
					DCTitle:     bill.DCTitle,
					Date:        bill.Date,
					Legisnum:    bill.Legisnum,
					Length:      bill.Length,
					SectionsNum: len(bill.Sections),
				}
				for _, s := range bill.Sections {
					meta.Sections = append(meta.Sections, sectionMeta{
						SectionID: s.ID,
						Number:    s.Number,
						Header:    s.Header,
						Length:    s.Length,
					})
				}
				if err := enc.Encode(meta); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", os.Getenv("BILL_DATA_ROOT"), "data root used to resolve bill identifiers")
	cmd.Flags().StringVar(&layout, "layout", "flat", "directory layout under the data root (flat|nested)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
