// Package normalize turns raw model or stored payloads into canonical display text.
//
// Normalize is pure and idempotent: the cleaning pass is repeated until it no
// longer changes its input, so Normalize(Normalize(s)) == Normalize(s) for every s.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrMalformed reports a quoted payload that could not be JSON-decoded. The text is
// still cleaned on a best-effort basis (the surrounding quotes are stripped).
var ErrMalformed = errors.New("malformed quoted payload")

var unescaper = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\"`, `"`)

var (
	listItemRe = regexp.MustCompile(`^\s*([-*+]|\d{1,2}[.)])(\s+\S.*)?$`)
	thematicRe = regexp.MustCompile(`^\s*([-*_])(\s*([-*_]))+\s*$`)
)

// Normalize returns the canonical form of raw, discarding any recovery report.
func Normalize(raw string) string {
	s, _ := Clean(raw)
	return s
}

// Clean returns the canonical form of raw. A non-nil error wraps ErrMalformed and
// means a quoted payload was recovered by stripping its quotes; the returned text
// is always usable.
func Clean(raw string) (string, error) {
	var recovered error
	s := raw
	// every pass that changes the text strictly reduces the number of quote and
	// backslash characters or is a reflow of already-unescaped text, so this ends
	for range len(raw) + 2 {
		next, err := pass(s)
		if err != nil && recovered == nil {
			recovered = err
		}
		if next == s {
			break
		}
		s = next
	}
	return s, recovered
}

func pass(s string) (string, error) {
	var err error
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		var decoded string
		if jerr := json.Unmarshal([]byte(s), &decoded); jerr == nil {
			s = decoded
		} else {
			s = s[1 : len(s)-1]
			err = fmt.Errorf("%w: %v", ErrMalformed, jerr)
		}
	}

	s = unescaper.Replace(s)
	return strings.TrimSpace(reflow(s)), err
}

type lineKind int

const (
	kindNone lineKind = iota
	kindBlank
	kindText
	kindList
	kindBlock
)

func classify(line string) lineKind {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return kindBlank
	case thematicRe.MatchString(trimmed):
		return kindBlock
	case listItemRe.MatchString(line):
		return kindList
	case strings.HasPrefix(trimmed, "#"), strings.HasPrefix(trimmed, ">"), strings.HasPrefix(trimmed, "|"):
		return kindBlock
	}
	return kindText
}

func isFence(trimmed string) bool {
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}

// reflow joins soft-wrapped sentence lines, collapses blank runs to a single
// blank line and separates a list from the paragraph that introduces it.
// Fenced code is copied verbatim.
func reflow(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	last := kindNone
	inFence := false

	for _, raw := range lines {
		trimmed := strings.TrimSpace(raw)
		if inFence {
			out = append(out, raw)
			if isFence(trimmed) {
				inFence = false
				last = kindBlock
			}
			continue
		}
		if isFence(trimmed) {
			out = append(out, strings.TrimRight(raw, " \t"))
			inFence = true
			continue
		}

		line := strings.TrimRight(raw, " \t")
		switch kind := classify(line); kind {
		case kindBlank:
			if last != kindBlank && last != kindNone {
				out = append(out, "")
				last = kindBlank
			}
		case kindText:
			if last == kindText || last == kindList {
				// "1." alone on its line also lands here and becomes "1. text"
				out[len(out)-1] += " " + trimmed
				continue
			}
			out = append(out, trimmed)
			last = kindText
		case kindList:
			if last == kindText || last == kindBlock {
				out = append(out, "")
			}
			out = append(out, line)
			last = kindList
		default:
			out = append(out, line)
			last = kindBlock
		}
	}
	return strings.Join(out, "\n")
}
