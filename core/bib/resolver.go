package bib

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/markweave/markweave/core/model"
)

// cslSchema is the schema URI stamped into structured citation fields.
const cslSchema = "https://github.com/citation-style-language/schema/raw/master/csl-citation.json"

// FieldInstruction is the field-code prefix a compatible reference
// manager recognizes. The JSON payload follows it inside the field
// instruction text.
const FieldInstruction = "ADDIN ZOTERO_ITEM CSL_CITATION"

// citationNamespace seeds deterministic citation IDs so identical input
// yields byte-identical output.
var citationNamespace = uuid.MustParse("9f2c1a47-5b63-4c7e-9d15-3a8e40f6b2d1")

// Resolution is the outcome of resolving one citation bracket.
type Resolution struct {
	// Text is the rendered display form.
	Text string

	// Instruction is the full field instruction (prefix + JSON payload)
	// when the bracket resolved with provenance; empty means the
	// citation is emitted as plain text.
	Instruction string

	// Resolved is false when any key in the bracket missed the
	// bibliography and the literal bracket text is used instead.
	Resolved bool
}

// Resolver resolves citation brackets against a bibliography. A nil
// library resolves nothing.
type Resolver struct {
	lib *Library
}

// NewResolver builds a resolver over lib (which may be nil).
func NewResolver(lib *Library) *Resolver {
	return &Resolver{lib: lib}
}

// cslCitation mirrors the CSL citation JSON layout. Field order is fixed
// by the struct definition, keeping serialization deterministic.
type cslCitation struct {
	CitationID    string        `json:"citationID"`
	Properties    cslProperties `json:"properties"`
	CitationItems []cslItem     `json:"citationItems"`
	Schema        string        `json:"schema"`
}

type cslProperties struct {
	FormattedCitation string `json:"formattedCitation"`
	PlainCitation     string `json:"plainCitation"`
}

type cslItem struct {
	ID       string      `json:"id"`
	URIs     []string    `json:"uris"`
	ItemData cslItemData `json:"itemData"`
	Locator  string      `json:"locator,omitempty"`
	Label    string      `json:"label,omitempty"`
}

type cslItemData struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Title       string    `json:"title,omitempty"`
	Author      []cslName `json:"author,omitempty"`
	Issued      *cslDate  `json:"issued,omitempty"`
	CitationKey string    `json:"citation-key"`
}

type cslName struct {
	Family string `json:"family"`
	Given  string `json:"given,omitempty"`
}

type cslDate struct {
	DateParts [][]int `json:"date-parts"`
}

// Resolve resolves one citation bracket. All keys resolving with
// provenance yields a single structured field covering every key; any
// miss falls back to the literal bracket text with a warning. Entries
// without provenance render as plain author/year text.
func (r *Resolver) Resolve(keys []model.CiteKey) (Resolution, []string) {
	var warnings []string
	entries := make([]*Entry, len(keys))
	allProvenance := true
	for i, k := range keys {
		e := r.lib.Lookup(k.Key)
		if e == nil {
			warnings = append(warnings, fmt.Sprintf("unresolved citation key %q", k.Key))
			return Resolution{Text: BracketText(keys)}, warnings
		}
		entries[i] = e
		if !e.HasProvenance() {
			allProvenance = false
		}
	}

	display := renderDisplay(entries, keys)
	res := Resolution{Text: display, Resolved: true}
	if !allProvenance {
		return res, warnings
	}

	citation := cslCitation{
		CitationID: deterministicID(keys),
		Properties: cslProperties{
			FormattedCitation: display,
			PlainCitation:     display,
		},
		Schema: cslSchema,
	}
	for i, e := range entries {
		label, value := SplitLocator(keys[i].Locator)
		item := cslItem{
			ID:   e.ItemKey(),
			URIs: []string{e.URI()},
			ItemData: cslItemData{
				ID:          e.ItemKey(),
				Type:        cslType(e.Type),
				Title:       e.Field("title"),
				Author:      parseAuthors(e.Field("author")),
				Issued:      issuedDate(e.Field("year")),
				CitationKey: e.Key,
			},
			Locator: value,
			Label:   label,
		}
		citation.CitationItems = append(citation.CitationItems, item)
	}

	payload, err := json.Marshal(citation)
	if err != nil {
		// Marshal of plain structs cannot fail in practice; degrade to
		// plain text if it ever does.
		return res, warnings
	}
	res.Instruction = FieldInstruction + " " + string(payload)
	return res, warnings
}

// ParseInstruction recovers the citation keys, locators, and display
// text from a structured field instruction written by Resolve (or by a
// compatible reference manager). Returns ok=false when the instruction
// is not a recognizable structured citation.
func ParseInstruction(instr string) (keys []model.CiteKey, display string, ok bool) {
	instr = strings.TrimSpace(instr)
	idx := strings.Index(instr, FieldInstruction)
	if idx < 0 {
		return nil, "", false
	}
	payload := strings.TrimSpace(instr[idx+len(FieldInstruction):])
	start := strings.Index(payload, "{")
	if start < 0 {
		return nil, "", false
	}
	var citation cslCitation
	if err := json.Unmarshal([]byte(payload[start:]), &citation); err != nil {
		return nil, "", false
	}
	for _, item := range citation.CitationItems {
		key := item.ItemData.CitationKey
		if key == "" {
			key = item.ID
		}
		if key == "" {
			continue
		}
		keys = append(keys, model.CiteKey{
			Key:     key,
			Locator: JoinLocator(item.Label, item.Locator),
		})
	}
	if len(keys) == 0 {
		return nil, "", false
	}
	display = citation.Properties.PlainCitation
	if display == "" {
		display = citation.Properties.FormattedCitation
	}
	return keys, display, true
}

// BracketText reconstructs the literal dialect bracket for a key group,
// used for unresolved fallback rendering.
func BracketText(keys []model.CiteKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		if k.Locator != "" {
			parts[i] = "@" + k.Key + ", " + k.Locator
		} else {
			parts[i] = "@" + k.Key
		}
	}
	return "[" + strings.Join(parts, "; ") + "]"
}

// ParseBracketText is the inverse of BracketText: it splits a literal
// dialect bracket back into its key group. Returns ok=false when the
// text is not a well-formed bracket.
func ParseBracketText(s string) (keys []model.CiteKey, ok bool) {
	s = strings.TrimSpace(s)
	if len(s) < 3 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, false
	}
	for _, part := range strings.Split(s[1:len(s)-1], ";") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, "@") {
			return nil, false
		}
		key, locator, _ := strings.Cut(part[1:], ",")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, false
		}
		keys = append(keys, model.CiteKey{Key: key, Locator: strings.TrimSpace(locator)})
	}
	if len(keys) == 0 {
		return nil, false
	}
	return keys, true
}

// SplitLocator splits a locator like "p. 20" into a CSL label and value.
// Unrecognized prefixes keep the whole locator as a page value.
func SplitLocator(locator string) (label, value string) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", ""
	}
	prefixes := []struct {
		prefix string
		label  string
	}{
		{"pp.", "page"},
		{"p.", "page"},
		{"chap.", "chapter"},
		{"ch.", "chapter"},
		{"sec.", "section"},
		{"§", "section"},
		{"vol.", "volume"},
		{"fig.", "figure"},
		{"n.", "note"},
	}
	for _, p := range prefixes {
		if rest, found := strings.CutPrefix(locator, p.prefix); found {
			return p.label, strings.TrimSpace(rest)
		}
	}
	return "page", locator
}

// JoinLocator reverses SplitLocator for the common labels.
func JoinLocator(label, value string) string {
	if value == "" {
		return ""
	}
	switch label {
	case "page", "":
		return "p. " + value
	case "chapter":
		return "chap. " + value
	case "section":
		return "sec. " + value
	case "volume":
		return "vol. " + value
	case "figure":
		return "fig. " + value
	case "note":
		return "n. " + value
	}
	return value
}

func deterministicID(keys []model.CiteKey) string {
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k.Key)
		sb.WriteByte(0)
		sb.WriteString(k.Locator)
		sb.WriteByte(0)
	}
	return uuid.NewSHA1(citationNamespace, []byte(sb.String())).String()
}

// renderDisplay builds "(Smith, 2020, p. 20; Jones & Doe, 2019)".
func renderDisplay(entries []*Entry, keys []model.CiteKey) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		part := authorLabel(e.Field("author"))
		if part == "" {
			part = e.Key
		}
		if year := e.Field("year"); year != "" {
			part += ", " + year
		}
		if loc := strings.TrimSpace(keys[i].Locator); loc != "" {
			part += ", " + loc
		}
		parts[i] = part
	}
	return "(" + strings.Join(parts, "; ") + ")"
}

// authorLabel condenses a name list into the in-text author label:
// one author by surname, two joined with "&", three or more "et al.".
func authorLabel(authors string) string {
	authors = strings.TrimSpace(authors)
	if authors == "" {
		return ""
	}
	names := strings.Split(authors, " and ")
	surnames := make([]string, 0, len(names))
	for _, n := range names {
		surnames = append(surnames, surname(n))
	}
	switch len(surnames) {
	case 1:
		return surnames[0]
	case 2:
		return surnames[0] + " & " + surnames[1]
	default:
		return surnames[0] + " et al."
	}
}

// surname extracts the family name from "Family, Given" or "Given Family".
func surname(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.Index(name, ","); i >= 0 {
		return strings.TrimSpace(name[:i])
	}
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return name
	}
	return fields[len(fields)-1]
}

// parseAuthors converts a name list to CSL name records.
func parseAuthors(authors string) []cslName {
	authors = strings.TrimSpace(authors)
	if authors == "" {
		return nil
	}
	var out []cslName
	for _, n := range strings.Split(authors, " and ") {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if i := strings.Index(n, ","); i >= 0 {
			out = append(out, cslName{
				Family: strings.TrimSpace(n[:i]),
				Given:  strings.TrimSpace(n[i+1:]),
			})
			continue
		}
		fields := strings.Fields(n)
		if len(fields) == 1 {
			out = append(out, cslName{Family: fields[0]})
			continue
		}
		out = append(out, cslName{
			Family: fields[len(fields)-1],
			Given:  strings.Join(fields[:len(fields)-1], " "),
		})
	}
	return out
}

// issuedDate converts a year field to a CSL issued date.
func issuedDate(year string) *cslDate {
	year = strings.TrimSpace(year)
	if year == "" {
		return nil
	}
	var y int
	if _, err := fmt.Sscanf(year, "%d", &y); err != nil {
		return nil
	}
	return &cslDate{DateParts: [][]int{{y}}}
}

// cslType maps bibliography entry types onto CSL item types.
func cslType(entryType string) string {
	switch entryType {
	case "article":
		return "article-journal"
	case "book":
		return "book"
	case "inproceedings", "conference":
		return "paper-conference"
	case "incollection", "inbook":
		return "chapter"
	case "techreport":
		return "report"
	case "phdthesis", "mastersthesis":
		return "thesis"
	case "misc", "online", "electronic":
		return "webpage"
	}
	return "document"
}
