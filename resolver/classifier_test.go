package resolver

import (
	"testing"
)

func TestClassifyAndDerive(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantScheme string
		wantURL    string
	}{
		{
			name:       "bare doi",
			raw:        "10.1000/182",
			wantScheme: "doi",
			wantURL:    "http://doi.org/10.1000/182",
		},
		{
			name:       "doi with prefix",
			raw:        "doi:10.1000/182",
			wantScheme: "doi",
			wantURL:    "http://doi.org/10.1000/182",
		},
		{
			name:       "https doi keeps https",
			raw:        "https://doi.org/10.1000/182",
			wantScheme: "doi",
			wantURL:    "https://doi.org/10.1000/182",
		},
		{
			name:       "http doi stays http",
			raw:        "http://dx.doi.org/10.1000/182",
			wantScheme: "doi",
			wantURL:    "http://doi.org/10.1000/182",
		},
		{
			name:       "arxiv with prefix",
			raw:        "arXiv:2207.01510",
			wantScheme: "arxiv",
			wantURL:    "http://arxiv.org/abs/2207.01510",
		},
		{
			name:       "arxiv https url keeps https",
			raw:        "https://arxiv.org/abs/2207.01510",
			wantScheme: "arxiv",
			wantURL:    "https://arxiv.org/abs/2207.01510",
		},
		{
			name:       "bare orcid",
			raw:        "0000-0002-1825-0097",
			wantScheme: "orcid",
			wantURL:    "https://orcid.org/0000-0002-1825-0097",
		},
		{
			name:       "handle",
			raw:        "11500/ATHENA.123",
			wantScheme: "handle",
			wantURL:    "http://hdl.handle.net/11500/ATHENA.123",
		},
		{
			name:       "https handle keeps https",
			raw:        "https://hdl.handle.net/11500/ATHENA.123",
			wantScheme: "handle",
			wantURL:    "https://hdl.handle.net/11500/ATHENA.123",
		},
		{
			name:       "urn nbn",
			raw:        "urn:nbn:de:101-2018072001",
			wantScheme: "urn:nbn",
			wantURL:    "https://nbn-resolving.org/urn:nbn:de:101-2018072001",
		},
		{
			name:       "plain url",
			raw:        "https://example.org/dataset/42",
			wantScheme: "url",
			wantURL:    "https://example.org/dataset/42",
		},
		{
			name:       "surrounding whitespace is trimmed",
			raw:        "  10.1000/182  ",
			wantScheme: "doi",
			wantURL:    "http://doi.org/10.1000/182",
		},
	}

	for _, tt := range tests {
		got, ok := ClassifyAndDerive(tt.raw)
		if !ok {
			t.Fatalf("%s: ClassifyAndDerive(%q) not recognized", tt.name, tt.raw)
		}
		if got.Scheme != tt.wantScheme {
			t.Fatalf("%s: scheme = %q, want %q", tt.name, got.Scheme, tt.wantScheme)
		}
		if got.ActionableURL != tt.wantURL {
			t.Fatalf("%s: url = %q, want %q", tt.name, got.ActionableURL, tt.wantURL)
		}
	}
}

func TestClassifyAndDeriveUnrecognized(t *testing.T) {
	unrecognized := []string{
		"",
		"   ",
		"not an identifier",
		"0000-0002-1825-0098", // bad ORCID check digit
		"ftp://example.org/file",
	}
	for _, raw := range unrecognized {
		if got, ok := ClassifyAndDerive(raw); ok {
			t.Fatalf("ClassifyAndDerive(%q) = %+v, want unrecognized", raw, got)
		}
	}
}

func TestClassifyAndDeriveISBNNotResolvable(t *testing.T) {
	// ISBNs are detectable but have no landing URL; classification must
	// report them as unresolvable so no record is ever created for them.
	if detected := DetectSchemes("978-3-16-148410-0"); len(detected) == 0 || detected[0] != "isbn" {
		t.Fatalf("DetectSchemes(isbn) = %v, want isbn first", detected)
	}
	if got, ok := ClassifyAndDerive("978-3-16-148410-0"); ok {
		t.Fatalf("ClassifyAndDerive(isbn) = %+v, want unresolvable", got)
	}
}

func TestDetectSchemesPriority(t *testing.T) {
	// A "10.x/y" string is both a valid DOI and a valid Handle; DOI must
	// come first.
	detected := DetectSchemes("10.1000/182")
	if len(detected) < 2 {
		t.Fatalf("DetectSchemes(10.1000/182) = %v, want doi and handle", detected)
	}
	if detected[0] != "doi" || detected[1] != "handle" {
		t.Fatalf("DetectSchemes(10.1000/182) = %v, want [doi handle]", detected)
	}
}

func TestDetectSchemesURLLast(t *testing.T) {
	detected := DetectSchemes("https://doi.org/10.1000/182")
	if len(detected) == 0 {
		t.Fatal("no schemes detected")
	}
	if detected[0] != "doi" {
		t.Fatalf("first scheme = %q, want doi", detected[0])
	}
	if detected[len(detected)-1] != "url" {
		t.Fatalf("last scheme = %q, want url", detected[len(detected)-1])
	}
}

func TestValidOrcidChecksum(t *testing.T) {
	valid := []string{"0000-0002-1825-0097", "0000-0001-5109-3700", "0000-0002-1694-233X"}
	for _, v := range valid {
		if !validOrcidChecksum(v) {
			t.Fatalf("validOrcidChecksum(%q) = false, want true", v)
		}
	}
	if validOrcidChecksum("0000-0002-1825-0098") {
		t.Fatal("validOrcidChecksum accepted a wrong check digit")
	}
}
