package report

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Severity is the ordinal band the model assigns to a report.
type Severity string

const (
	SeverityUnknown Severity = ""
	SeverityLow     Severity = "Baixa"
	SeverityMedium  Severity = "Média"
	SeverityHigh    Severity = "Alta"
)

// ErrIncomplete is returned when the analysis lacks one of the requested fields.
var ErrIncomplete = errors.New("analysis is missing required fields")

// Analysis holds the fields the classification prompt asks the model for.
type Analysis struct {
	Manifestation string
	Severity      Severity
	Summary       string
}

// Complete reports whether all three fields were recovered.
func (a Analysis) Complete() bool {
	return a.Manifestation != "" && a.Severity != SeverityUnknown && a.Summary != ""
}

type field int

const (
	fieldNone field = iota
	fieldManifestation
	fieldSeverity
	fieldSummary
)

var fieldKeys = map[string]field{
	"tipo de manifestacao": fieldManifestation,
	"tipo":                 fieldManifestation,
	"manifestacao":         fieldManifestation,
	"nivel de gravidade":   fieldSeverity,
	"gravidade":            fieldSeverity,
	"analise":              fieldSummary,
}

// Parse extracts the labelled fields from the free text returned by the model.
// The partial analysis is always returned; err is ErrIncomplete when any field is missing.
func Parse(raw string) (Analysis, error) {
	var (
		result  Analysis
		current field
		summary []string
	)

	for _, line := range strings.Split(raw, "\n") {
		cleaned := cleanLine(line)
		if cleaned == "" {
			continue
		}
		if strings.HasPrefix(cleaned, "---") {
			current = fieldNone
			continue
		}

		key, value, labelled := splitLabel(cleaned)
		if !labelled {
			if current == fieldSummary {
				summary = append(summary, cleaned)
			}
			continue
		}

		current = key
		switch key {
		case fieldManifestation:
			result.Manifestation = stripBrackets(value)
		case fieldSeverity:
			if severity, ok := ParseSeverity(value); ok {
				result.Severity = severity
			}
		case fieldSummary:
			summary = summary[:0]
			if value != "" {
				summary = append(summary, value)
			}
		}
	}

	result.Summary = stripBrackets(strings.Join(summary, " "))
	if !result.Complete() {
		return result, ErrIncomplete
	}
	return result, nil
}

// ParseSeverity maps Portuguese or English band names onto a Severity.
func ParseSeverity(raw string) (Severity, bool) {
	normalized := fold(stripBrackets(raw))
	if idx := strings.IndexFunc(normalized, func(r rune) bool { return !unicode.IsLetter(r) }); idx > 0 {
		normalized = normalized[:idx]
	}

	switch normalized {
	case "baixa", "baixo", "low":
		return SeverityLow, true
	case "media", "medio", "medium", "moderada":
		return SeverityMedium, true
	case "alta", "alto", "high", "grave":
		return SeverityHigh, true
	default:
		return SeverityUnknown, false
	}
}

func splitLabel(line string) (field, string, bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return fieldNone, "", false
	}
	key, ok := fieldKeys[fold(line[:idx])]
	if !ok {
		return fieldNone, "", false
	}
	return key, strings.TrimSpace(line[idx+1:]), true
}

func cleanLine(line string) string {
	line = strings.TrimSpace(strings.ReplaceAll(line, "*", ""))
	if strings.HasPrefix(line, "---") {
		return "---"
	}
	return strings.TrimSpace(strings.TrimLeft(line, "-•# "))
}

func stripBrackets(value string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(value), "[]\""))
}

// fold lowercases and drops diacritics so "Nível" and "nivel" compare equal.
func fold(s string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return folded
}
