// Package pathresolver maps between canonical billnumber_version identifiers
// and the on-disk location of the bill's XML, for the two filesystem
// layouts billsim has to support, and enumerates all bill XML files under a
// data root.
package pathresolver

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/usbillsim/billsim/internal/billerrs"
)

// Layout selects which on-disk directory convention a Resolver targets.
type Layout string

const (
	// LayoutFlat is the congress.gov flat layout:
	// <root>/<congress>/bills/<stage><number>/BILLS-<congress><stage><number><version>.xml
	LayoutFlat Layout = "flat"

	// LayoutNested is the unitedstates/congress nested layout:
	// <root>/<congress>/bills/<stage>/<stage><number>/text-versions/<version>/document.xml
	LayoutNested Layout = "nested"
)

const nestedDocumentFile = "document.xml"

// billNumberPartPattern is the canonical identifier regex: congress, stage,
// number, and an optional version suffix.
const billNumberPartPattern = `(?P<congress>[1-9][0-9]*)(?P<stage>[a-z]+)(?P<number>[0-9]+)(?P<version>[a-z]+)?`

var billNumberPartRegexp = regexp.MustCompile(billNumberPartPattern)

// flatDirRegexp matches a flat-layout bill directory:
// .../<congress>/bills/<stage><number>
var flatDirRegexp = regexp.MustCompile(`.*?([1-9][0-9]*)/bills/([a-z]+)([0-9]+)$`)

// flatFileRegexp matches a flat-layout bill XML filename.
var flatFileRegexp = regexp.MustCompile(`^BILLS-` + billNumberPartPattern + `\.xml$`)

// nestedDirRegexp matches a nested-layout version directory:
// .../<congress>/bills/<stage>/<stage><number>/text-versions/<version>
var nestedDirRegexp = regexp.MustCompile(
	`(?P<congress>[1-9][0-9]*)/bills/(?P<stage>[a-z]{1,8})/(?P<billnumber>[a-z]{1,8}[1-9][0-9]*)/text-versions/(?P<version>[a-z]+)$`)

// BillPath is an enumerated bill XML file paired with its identifier.
type BillPath struct {
	FilePath          string
	FileName          string
	BillnumberVersion string
}

// Resolver maps canonical identifiers to file paths for one layout.
type Resolver struct {
	Root   string
	Layout Layout
}

// New constructs a Resolver for the given data root and layout tag.
func New(root string, layout Layout) *Resolver {
	return &Resolver{Root: root, Layout: layout}
}

// PathFor returns the absolute on-disk path for a billnumber_version
// identifier, with no I/O performed. An absent version segment is inferred
// as "ih", matching the original source's default.
func (r *Resolver) PathFor(billnumberVersion string) (string, error) {
	parts, err := SplitIdentifier(billnumberVersion)
	if err != nil {
		return "", err
	}

	var rel string
	switch r.Layout {
	case LayoutNested:
		rel = fmt.Sprintf("%s/bills/%s/%s%s/text-versions/%s/%s",
			parts.Congress, parts.Stage, parts.Stage, parts.Number, parts.Version, nestedDocumentFile)
	default:
		rel = fmt.Sprintf("%s/bills/%s%s/BILLS-%s%s%s%s.xml",
			parts.Congress, parts.Stage, parts.Number,
			parts.Congress, parts.Stage, parts.Number, parts.Version)
	}
	return filepath.Abs(filepath.Join(r.Root, rel))
}

// Parse extracts a billnumber_version identifier from a path via regex
// search. It never raises; a malformed path yields the empty string. Under
// the nested layout the identifier is reassembled from the directory
// segments, since no single path component carries it whole.
func (r *Resolver) Parse(path string) string {
	if r.Layout == LayoutNested {
		dir := filepath.ToSlash(path)
		if strings.HasSuffix(dir, "/"+nestedDocumentFile) {
			dir = filepath.ToSlash(filepath.Dir(path))
		}
		m := nestedDirRegexp.FindStringSubmatch(dir)
		if m == nil {
			return ""
		}
		congress, billnumber, version := m[1], m[3], m[4]
		return congress + billnumber + version
	}

	if match := billNumberPartRegexp.FindString(filepath.Base(path)); match != "" {
		return match
	}
	return billNumberPartRegexp.FindString(path)
}

// IsFileParent reports whether dir is a directory that holds bill XML
// files under this Resolver's layout.
func (r *Resolver) IsFileParent(dir string) bool {
	dir = filepath.ToSlash(dir)
	switch r.Layout {
	case LayoutNested:
		return nestedDirRegexp.MatchString(dir)
	default:
		return flatDirRegexp.MatchString(dir)
	}
}

// FileMatches reports whether name is a bill XML file for this layout.
func (r *Resolver) FileMatches(name string) bool {
	switch r.Layout {
	case LayoutNested:
		return name == nestedDocumentFile
	default:
		return flatFileRegexp.MatchString(name)
	}
}

// Enumerate walks root and yields every bill XML file whose parent
// directory and filename match this Resolver's layout.
func (r *Resolver) Enumerate(root string) ([]BillPath, error) {
	var paths []BillPath
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		dir := filepath.Dir(path)
		name := info.Name()
		if !r.IsFileParent(dir) || !r.FileMatches(name) {
			return nil
		}
		bnv := r.Parse(path)
		paths = append(paths, BillPath{
			FilePath:          path,
			FileName:          name,
			BillnumberVersion: bnv,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pathresolver: walk failed: %w", err)
	}
	return paths, nil
}

// IdentifierParts is the decomposition of a billnumber_version string.
type IdentifierParts struct {
	Congress   string
	Stage      string
	Number     string
	Version    string
	Billnumber string // congress + stage + number, the canonical form
}

// SplitIdentifier parses a billnumber_version string (e.g. "117hr200ih")
// into its parts. A missing version segment defaults to "ih".
func SplitIdentifier(billnumberVersion string) (IdentifierParts, error) {
	match := billNumberPartRegexp.FindStringSubmatch(billnumberVersion)
	if match == nil {
		return IdentifierParts{}, fmt.Errorf("pathresolver: %w: %q is not a valid billnumber_version", billerrs.ErrValidation, billnumberVersion)
	}

	names := billNumberPartRegexp.SubexpNames()
	parts := IdentifierParts{}
	for i, name := range names {
		switch name {
		case "congress":
			parts.Congress = match[i]
		case "stage":
			parts.Stage = match[i]
		case "number":
			parts.Number = match[i]
		case "version":
			parts.Version = match[i]
		}
	}
	if strings.TrimSpace(parts.Version) == "" {
		parts.Version = "ih"
	}
	parts.Billnumber = parts.Congress + parts.Stage + parts.Number
	return parts, nil
}
