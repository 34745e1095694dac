package billxml

import (
	"os"
	"path/filepath"
	"testing"
)

const legacyBillXML = `<?xml version="1.0"?>
<bill>
  <form>
    <congress>117th CONGRESS</congress>
    <session>1st Session</session>
  </form>
  <legis-num>H. R. 200</legis-num>
  <dublinCore xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>A bill to do things.</dc:title>
    <dc:date>2021-01-05</dc:date>
  </dublinCore>
  <section id="H8E9">
    <enum>1</enum>
    <header>Short title</header>
    <text>This Act may be cited as the Example Act.</text>
  </section>
  <section id="H123" status="withdrawn">
    <enum>2</enum>
    <header>Withdrawn section</header>
    <text>Should not appear.</text>
  </section>
  <section id="H456">
    <enum>3</enum>
    <header>Findings</header>
    <text>Congress finds the following.
      <section id="nested">
        <enum>3</enum>
        <header>Nested</header>
        <text>Should be excluded from top level.</text>
      </section>
    </text>
  </section>
</bill>`

const uslm2BillXML = `<?xml version="1.0"?>
<bill xmlns="http://schemas.gpo.gov/xml/uslm" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <meta>
    <congress>117th</congress>
    <session>1st</session>
    <dc:title>A bill to do other things.</dc:title>
    <dc:date>2021-02-01</dc:date>
  </meta>
  <preface>
    <dc:type>House Bill</dc:type>
    <docNumber>200</docNumber>
  </preface>
  <section id="s1">
    <num>1</num>
    <heading>Short title</heading>
    <text>This Act may be cited as the Example Act.</text>
  </section>
</bill>`

func writeTemp(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseLegacyBill(t *testing.T) {
	path := writeTemp(t, "BILLS-117hr200ih.xml", legacyBillXML)
	bill, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if bill.Namespace != "" {
		t.Errorf("Namespace = %q, want empty", bill.Namespace)
	}
	if bill.Congress != "117" {
		t.Errorf("Congress = %q, want 117", bill.Congress)
	}
	if bill.DCTitle != "A bill to do things." {
		t.Errorf("DCTitle = %q", bill.DCTitle)
	}
	if bill.Date != "2021-01-05" {
		t.Errorf("Date = %q", bill.Date)
	}

	if len(bill.Sections) != 2 {
		t.Fatalf("got %d sections, want 2 (withdrawn and nested excluded): %+v", len(bill.Sections), bill.Sections)
	}
	if bill.Sections[0].Header != "Short title" || bill.Sections[0].Number != "1" {
		t.Errorf("unexpected first section: %+v", bill.Sections[0])
	}
	if bill.Sections[1].Header != "Findings" {
		t.Errorf("unexpected second section: %+v", bill.Sections[1])
	}
}

func TestParseUSLM2Bill(t *testing.T) {
	path := writeTemp(t, "document.xml", uslm2BillXML)
	bill, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if bill.Namespace != NamespaceUSLM {
		t.Errorf("Namespace = %q, want %q", bill.Namespace, NamespaceUSLM)
	}
	if bill.Congress != "117" {
		t.Errorf("Congress = %q, want 117", bill.Congress)
	}
	if bill.Legisnum != "House Bill 200" {
		t.Errorf("Legisnum = %q", bill.Legisnum)
	}
	if len(bill.Sections) != 1 {
		t.Fatalf("got %d sections, want 1", len(bill.Sections))
	}
	if bill.Sections[0].Number != "1" || bill.Sections[0].Header != "Short title" {
		t.Errorf("unexpected section: %+v", bill.Sections[0])
	}
}

func TestParseLegacyDateFallsBackToSidecar(t *testing.T) {
	dir := t.TempDir()
	xmlPath := filepath.Join(dir, "data.xml")
	noDate := `<?xml version="1.0"?>
<bill>
  <form><congress>117th</congress><session>1st</session></form>
  <dublinCore xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>T</dc:title></dublinCore>
  <section id="s1"><enum>1</enum><header>H</header><text>body</text></section>
</bill>`
	if err := os.WriteFile(xmlPath, []byte(noDate), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "data.json"), []byte(`{"issued_on":"2021-03-03"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	bill, err := Parse(xmlPath)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if bill.Date != "2021-03-03" {
		t.Errorf("Date = %q, want sidecar fallback 2021-03-03", bill.Date)
	}
}
