package bib

import (
	"testing"
)

const sampleBib = `
% test bibliography
@article{smith2020,
  author    = {Smith, John and Doe, Jane},
  title     = {A Study of {Round} Trips},
  journal   = {Journal of Conversions},
  year      = {2020},
  zoterokey = {ABCD1234},
  zoterouri = {http://zotero.org/users/1/items/ABCD1234}
}

@book{jones2019,
  author = "Jones, Alice",
  title  = "Documents",
  year   = 2019,
  zoterokey = {EFGH5678},
  zoterouri = {http://zotero.org/users/1/items/EFGH5678}
}

@misc{plain2021,
  author = {Plain, Bob},
  year   = {2021}
}
`

func TestParseLibrary(t *testing.T) {
	lib, err := Parse([]byte(sampleBib))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if lib.Len() != 3 {
		t.Fatalf("Len = %d, want 3", lib.Len())
	}

	e := lib.Lookup("smith2020")
	if e == nil {
		t.Fatal("smith2020 not found")
	}
	if e.Type != "article" {
		t.Errorf("Type = %q, want article", e.Type)
	}
	if got := e.Field("author"); got != "Smith, John and Doe, Jane" {
		t.Errorf("author = %q", got)
	}
	if got := e.Field("title"); got != "A Study of {Round} Trips" {
		t.Errorf("title = %q", got)
	}
	if got := e.Field("year"); got != "2020" {
		t.Errorf("year = %q", got)
	}
	if !e.HasProvenance() {
		t.Error("smith2020 should carry provenance fields")
	}
	if e.ItemKey() != "ABCD1234" {
		t.Errorf("ItemKey = %q", e.ItemKey())
	}
}

func TestParseQuotedAndBareValues(t *testing.T) {
	lib, err := Parse([]byte(sampleBib))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	e := lib.Lookup("jones2019")
	if e == nil {
		t.Fatal("jones2019 not found")
	}
	if got := e.Field("author"); got != "Jones, Alice" {
		t.Errorf("quoted author = %q", got)
	}
	if got := e.Field("year"); got != "2019" {
		t.Errorf("bare year = %q", got)
	}
}

func TestParseEntryWithoutProvenance(t *testing.T) {
	lib, err := Parse([]byte(sampleBib))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	e := lib.Lookup("plain2021")
	if e == nil {
		t.Fatal("plain2021 not found")
	}
	if e.HasProvenance() {
		t.Error("plain2021 should not carry provenance")
	}
}

func TestParseEmptyAndCommentOnly(t *testing.T) {
	for _, src := range []string{"", "   \n", "% just a comment\n", "@comment{ignored, stuff}"} {
		lib, err := Parse([]byte(src))
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", src, err)
		}
		if lib.Len() != 0 {
			t.Errorf("Parse(%q) produced %d entries", src, lib.Len())
		}
	}
}

func TestParseKeysInFileOrder(t *testing.T) {
	lib, err := Parse([]byte(sampleBib))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := []string{"smith2020", "jones2019", "plain2021"}
	got := lib.Keys()
	if len(got) != len(want) {
		t.Fatalf("Keys = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseUnbalancedBraces(t *testing.T) {
	if _, err := Parse([]byte("@article{broken, title = {never closed")); err == nil {
		t.Error("unbalanced entry should fail to parse")
	}
}

func TestLookupNilLibrary(t *testing.T) {
	var lib *Library
	if lib.Lookup("x") != nil {
		t.Error("nil library lookup should return nil")
	}
	if lib.Len() != 0 {
		t.Error("nil library Len should be 0")
	}
}
