package model

import "strings"

// AlertType is the alert classification of a blockquote group.
type AlertType string

// Alert type constants, matching the GitHub alert vocabulary.
const (
	AlertNote      AlertType = "NOTE"
	AlertTip       AlertType = "TIP"
	AlertImportant AlertType = "IMPORTANT"
	AlertWarning   AlertType = "WARNING"
	AlertCaution   AlertType = "CAUTION"
)

// alertInfo is the rendered lead-in vocabulary for one alert type. The
// generator writes glyph+title into the first paragraph of a group and
// the extractor strips it back out, so both sides must share this table.
type alertInfo struct {
	Glyph string
	Title string
}

var alertTable = map[AlertType]alertInfo{
	AlertNote:      {"ℹ️", "Note"},
	AlertTip:       {"\U0001f4a1", "Tip"},
	AlertImportant: {"❗", "Important"},
	AlertWarning:   {"⚠️", "Warning"},
	AlertCaution:   {"\U0001f6ab", "Caution"},
}

// AlertTypes returns the vocabulary in stable order, for callers that
// probe lead-in text against every type.
func AlertTypes() []AlertType {
	return []AlertType{AlertNote, AlertTip, AlertImportant, AlertWarning, AlertCaution}
}

// IsValid returns true if the alert type is part of the vocabulary.
func (a AlertType) IsValid() bool {
	_, ok := alertTable[a]
	return ok
}

// Glyph returns the lead-in glyph for the alert type.
func (a AlertType) Glyph() string {
	return alertTable[a].Glyph
}

// Title returns the lead-in title for the alert type.
func (a AlertType) Title() string {
	return alertTable[a].Title
}

// LeadIn returns the full rendered lead-in ("glyph title").
func (a AlertType) LeadIn() string {
	info := alertTable[a]
	return info.Glyph + " " + info.Title
}

// ParseAlertType matches a header tag like "NOTE" or "tip" against the
// vocabulary. Returns "" if the tag is not recognized.
func ParseAlertType(tag string) AlertType {
	a := AlertType(strings.ToUpper(strings.TrimSpace(tag)))
	if a.IsValid() {
		return a
	}
	return ""
}

// StripLeadIn removes a recognized alert lead-in prefix from the first
// line of an extracted alert body. It tolerates a missing glyph (some
// producers drop it) and a trailing separator. Returns the remaining
// text and true if a lead-in was removed.
func StripLeadIn(a AlertType, text string) (string, bool) {
	info, ok := alertTable[a]
	if !ok {
		return text, false
	}
	s := text
	trimmed := false
	if rest, found := strings.CutPrefix(s, info.Glyph); found {
		s = strings.TrimLeft(rest, " ")
		trimmed = true
	}
	if rest, found := strings.CutPrefix(s, info.Title); found {
		s = rest
		trimmed = true
	}
	if !trimmed {
		return text, false
	}
	s = strings.TrimPrefix(s, ":")
	s = strings.TrimLeft(s, " ")
	return s, true
}
