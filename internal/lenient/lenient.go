// Package lenient extracts JSON values from free-form LLM output.
//
// Model responses routinely wrap JSON in markdown fences, add commentary, use
// single quotes or bare keys, or embed raw control characters. Parse runs a fixed
// sequence of stages and never returns an error or panics:
//
//  1. Reject: responses containing a long run of one repeated symbol (a known
//     degenerate-generation signature) are rejected before any parsing.
//  2. Extract: take the body of the first fenced code block if present, then the
//     first balanced {...} or [...] span.
//  3. Strict: json.Unmarshal the extracted span unchanged.
//  4. Repair: strip trailing commas, convert single-quoted strings to double
//     quotes, quote bare object keys, escape raw control characters; parse again.
//  5. Aggressive: collapse every whitespace/control run to a single space, repeat
//     the repairs, parse again.
//  6. Failed: the terminal fallback is a Result with a nil Value and StageFailed.
//     Callers decide what a failed parse degrades to.
package lenient

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode"
)

// Stage records how far Parse had to go to obtain a value.
type Stage int

const (
	StageStrict     Stage = iota // parsed without modification
	StageRepaired                // parsed after the normalization pass
	StageAggressive              // parsed after whitespace/control collapse
	StageRejected                // repeated-symbol run detected; never parsed
	StageFailed                  // all stages failed; Value is nil
)

func (s Stage) String() string {
	switch s {
	case StageStrict:
		return "strict"
	case StageRepaired:
		return "repaired"
	case StageAggressive:
		return "aggressive"
	case StageRejected:
		return "rejected"
	default:
		return "failed"
	}
}

// DefaultSymbolRun is the run length of a single repeated symbol that marks a
// response as degenerate.
const DefaultSymbolRun = 15

var (
	// ErrRepeatedSymbols is returned by Decode for degenerate responses.
	ErrRepeatedSymbols = errors.New("lenient: response contains repeated symbol run")

	// ErrUnparseable is returned by Decode when every stage failed.
	ErrUnparseable = errors.New("lenient: no parseable JSON in response")
)

// Result is the outcome of Parse.
type Result struct {
	Value     interface{} // map[string]interface{}, []interface{}, or nil
	Stage     Stage
	Extracted string // the span that was (or would have been) parsed
}

// OK reports whether a value was obtained.
func (r Result) OK() bool {
	return r.Stage == StageStrict || r.Stage == StageRepaired || r.Stage == StageAggressive
}

// Object returns the value as a JSON object, if it is one.
func (r Result) Object() (map[string]interface{}, bool) {
	m, ok := r.Value.(map[string]interface{})
	return m, ok
}

// Array returns the value as a JSON array, if it is one.
func (r Result) Array() ([]interface{}, bool) {
	a, ok := r.Value.([]interface{})
	return a, ok
}

// Parse runs every stage against text. It never fails; inspect Stage.
func Parse(text string) Result {
	var v interface{}
	stage, extracted := run(text, func(candidate string) bool {
		v = nil
		return json.Unmarshal([]byte(candidate), &v) == nil
	})
	if stage == StageRejected || stage == StageFailed {
		return Result{Stage: stage, Extracted: extracted}
	}
	return Result{Value: v, Stage: stage, Extracted: extracted}
}

// Decode runs the stages and unmarshals into target at the first stage whose
// output fits target's shape.
func Decode(text string, target interface{}) (Stage, error) {
	stage, _ := run(text, func(candidate string) bool {
		return json.Unmarshal([]byte(candidate), target) == nil
	})
	switch stage {
	case StageRejected:
		return stage, ErrRepeatedSymbols
	case StageFailed:
		return stage, ErrUnparseable
	}
	return stage, nil
}

func run(text string, try func(string) bool) (Stage, string) {
	if HasRepeatedSymbolRun(text, DefaultSymbolRun) {
		return StageRejected, ""
	}

	extracted := Extract(text)
	if extracted == "" {
		return StageFailed, ""
	}

	if try(extracted) {
		return StageStrict, extracted
	}

	repaired := Repair(extracted)
	if try(repaired) {
		return StageRepaired, repaired
	}

	collapsed := Repair(Collapse(extracted))
	if try(collapsed) {
		return StageAggressive, collapsed
	}

	return StageFailed, extracted
}

// HasRepeatedSymbolRun reports whether text contains minRun or more consecutive
// copies of the same non-letter, non-digit, non-space rune.
func HasRepeatedSymbolRun(text string, minRun int) bool {
	if minRun < 2 {
		minRun = 2
	}
	var prev rune
	run := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			run = 0
			prev = 0
			continue
		}
		if r == prev {
			run++
		} else {
			prev = r
			run = 1
		}
		if run >= minRun {
			return true
		}
	}
	return false
}

var fence = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*\\n?(.*?)```")

// Extract returns the first balanced JSON object or array in text, preferring
// the contents of a fenced code block. If an opening bracket is found but never
// closed, the remainder of the text from that bracket is returned so later
// stages can still try. Returns "" when text has no bracket at all.
func Extract(text string) string {
	body := text
	if m := fence.FindStringSubmatch(text); m != nil && strings.ContainsAny(m[1], "{[") {
		body = m[1]
	} else {
		// Unterminated fence: drop the opening marker only.
		body = strings.ReplaceAll(body, "```json", "")
		body = strings.ReplaceAll(body, "```", "")
	}

	for offset := 0; offset < len(body); {
		idx := strings.IndexAny(body[offset:], "{[")
		if idx == -1 {
			break
		}
		start := offset + idx
		end := matchBracket(body, start)
		if end == -1 {
			return strings.TrimSpace(body[start:])
		}
		span := body[start : end+1]
		// Skip bracketed prose such as "[1]" or "[see below]".
		if span[0] == '{' || strings.ContainsAny(span, "{\"'") || strings.TrimSpace(span[1:len(span)-1]) == "" {
			return span
		}
		offset = start + 1
	}
	return ""
}

// matchBracket returns the index of the bracket closing the one at start,
// ignoring brackets inside quoted strings (either quote style), or -1.
func matchBracket(s string, start int) int {
	var stack []byte
	var quote byte
	escape := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escape {
			escape = false
			continue
		}
		if quote != 0 {
			switch c {
			case '\\':
				escape = true
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}
