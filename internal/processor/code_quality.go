package processor

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/scrypster/memento-insights/pkg/types"
)

// Code smell names, also used as insight tags.
const (
	SmellLongParameterList  = "long_parameter_list"
	SmellNestedConditionals = "nested_conditionals"
	SmellLongFunction       = "long_function"
	SmellMagicNumbers       = "magic_numbers"
	SmellDebugStatements    = "debug_statements"
)

// Thresholds for the code smells.
const (
	maxParameters    = 5
	maxNestingDepth  = 2 // depth 3 and above is reported
	maxFunctionLines = 50
	minMagicNumbers  = 3
	minSmellScore    = 0.5
	maxSmellScore    = 0.8
)

var (
	funcSignature = regexp.MustCompile(`\b(?:func|function|def|fn)\b\s*(?:\([^)]*\)\s*)?[\w$]*\s*\(([^)]*)\)`)
	numberLiteral = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	debugPrint    = regexp.MustCompile(`\b(?:console\.(?:log|debug|trace)|fmt\.Print(?:ln|f)?|System\.out\.print(?:ln)?|println!|var_dump|print_r|debugger)\b|\bprint\(`)
	constLine     = regexp.MustCompile(`(?i)\b(?:const|final|#define|enum)\b`)
)

var controlWords = map[string]bool{
	"if": true, "else": true, "for": true, "foreach": true, "while": true, "switch": true, "elif": true, "try": true, "with": true,
}

// ordinaryNumbers never count as magic.
var ordinaryNumbers = map[string]bool{"0": true, "1": true, "2": true, "10": true, "100": true}

type codeSmell struct {
	name      string
	title     string
	summary   string
	severity  string
	metric    string
	value     int
	threshold int
	line      int
	snippet   string
	score     float64
	rec       types.Recommendation
}

// CodeQualityAnalyzer measures simple structural metrics of code memories.
// It only looks at memories of type code.
type CodeQualityAnalyzer struct {
	logger *zap.Logger
}

// NewCodeQualityAnalyzer builds the code-quality processor.
func NewCodeQualityAnalyzer(deps Deps) *CodeQualityAnalyzer {
	return &CodeQualityAnalyzer{logger: deps.logger(NameCodeQuality)}
}

// DetectionMethod implements Processor.
func (a *CodeQualityAnalyzer) DetectionMethod() string { return MethodCode }

// Process implements Processor. Each smell found yields one code_smell insight.
func (a *CodeQualityAnalyzer) Process(ctx context.Context, memory *types.Memory, opts Options) ([]*types.Insight, error) {
	if !memory.HasContent() || memory.MemoryType != types.MemoryTypeCode {
		return nil, nil
	}

	var smells []codeSmell
	smells = append(smells, longParameterLists(memory.Content)...)
	if s, ok := nestedConditionals(memory.Content); ok {
		smells = append(smells, s)
	}
	if s, ok := longFunction(memory.Content); ok {
		smells = append(smells, s)
	}
	if s, ok := magicNumbers(memory.Content); ok {
		smells = append(smells, s)
	}
	if s, ok := debugStatements(memory.Content); ok {
		smells = append(smells, s)
	}

	out := make([]*types.Insight, 0, len(smells))
	for _, s := range smells {
		in := NewDraft(memory, types.InsightCodeSmell, types.CategoryCodeQuality, s.title, s.summary, MethodCode)
		in.Subcategory = s.name
		in.ConfidenceScore = math.Min(math.Max(s.score, minSmellScore), maxSmellScore)
		AddTag(in, s.name)
		AddTag(in, types.CategoryCodeQuality)
		AddPattern(in, types.Pattern{Name: s.name, Category: types.CategoryCodeQuality, Description: s.summary, Confidence: in.ConfidenceScore})
		if s.snippet != "" {
			AddEvidence(in, types.Evidence{Type: "code", Description: s.snippet, Source: memory.ID, Category: types.CategoryCodeQuality})
		}
		rec := s.rec
		rec.Category = types.CategoryCodeQuality
		AddRecommendation(in, rec)
		in.SetDetail(types.CodeSmellDetail{
			Smell:      s.name,
			Severity:   s.severity,
			Metric:     s.metric,
			Value:      s.value,
			Threshold:  s.threshold,
			Snippet:    s.snippet,
			LineNumber: s.line,
		})
		out = append(out, in)
	}
	if len(out) > 0 {
		a.logger.Debug("code smells detected", zap.String("memory_id", memory.ID), zap.Int("count", len(out)))
	}
	return out, nil
}

func longParameterLists(content string) []codeSmell {
	var out []codeSmell
	for _, loc := range funcSignature.FindAllStringSubmatchIndex(content, -1) {
		params := countParams(content[loc[2]:loc[3]])
		if params <= maxParameters {
			continue
		}
		severity := types.PriorityMedium
		if params > 8 {
			severity = types.PriorityHigh
		}
		out = append(out, codeSmell{
			name:      SmellLongParameterList,
			title:     fmt.Sprintf("Long parameter list (%d parameters)", params),
			summary:   fmt.Sprintf("A function takes %d parameters; more than %d makes calls hard to read and easy to get wrong.", params, maxParameters),
			severity:  severity,
			metric:    "parameters",
			value:     params,
			threshold: maxParameters,
			line:      lineOf(content, loc[0]),
			snippet:   truncate(content[loc[0]:loc[1]], 120),
			score:     0.6 + 0.05*float64(params-maxParameters-1),
			rec:       types.Recommendation{Title: "Group related parameters into a struct", Description: "Introduce a parameter object or options struct.", Priority: types.PriorityMedium},
		})
	}
	return out
}

func countParams(list string) int {
	n := 0
	for _, p := range strings.Split(list, ",") {
		p = strings.TrimSpace(p)
		if p == "" || p == "self" || p == "this" {
			continue
		}
		n++
	}
	return n
}

func nestedConditionals(content string) (codeSmell, bool) {
	depth, line := braceNesting(content)
	if !strings.Contains(content, "{") {
		depth, line = indentNesting(content)
	}
	if depth <= maxNestingDepth {
		return codeSmell{}, false
	}
	severity := types.PriorityMedium
	if depth >= 5 {
		severity = types.PriorityHigh
	}
	return codeSmell{
		name:      SmellNestedConditionals,
		title:     fmt.Sprintf("Deeply nested conditionals (depth %d)", depth),
		summary:   fmt.Sprintf("Control flow is nested %d levels deep, which hides the main path through the code.", depth),
		severity:  severity,
		metric:    "nesting_depth",
		value:     depth,
		threshold: maxNestingDepth,
		line:      line,
		snippet:   snippetAt(content, line),
		score:     0.6 + 0.1*float64(depth-maxNestingDepth-1),
		rec:       types.Recommendation{Title: "Flatten nested conditionals", Description: "Use guard clauses and early returns, or extract the inner branches.", Priority: types.PriorityMedium},
	}, true
}

// braceNesting returns the deepest nesting of control-flow blocks in brace
// languages and the line where it is reached.
func braceNesting(content string) (int, int) {
	var stack []bool
	pending := false
	depth, maxDepth, maxLine, line := 0, 0, 0, 1

	runes := []rune(content)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\n':
			line++
		case unicode.IsLetter(r) && (i == 0 || !isIdentRune(runes[i-1])):
			j := i
			for j < len(runes) && isIdentRune(runes[j]) {
				j++
			}
			if controlWords[string(runes[i:j])] {
				pending = true
			}
			i = j - 1
		case r == '{':
			stack = append(stack, pending)
			if pending {
				depth++
				if depth > maxDepth {
					maxDepth, maxLine = depth, line
				}
			}
			pending = false
		case r == '}':
			if len(stack) == 0 {
				continue
			}
			if stack[len(stack)-1] {
				depth--
			}
			stack = stack[:len(stack)-1]
		}
	}
	return maxDepth, maxLine
}

// indentNesting handles indentation-scoped languages: control lines ending in
// a colon open a block closed by dedent.
func indentNesting(content string) (int, int) {
	var stack []int
	maxDepth, maxLine := 0, 0
	for n, raw := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		indent := len(raw) - len(strings.TrimLeft(raw, " \t"))
		for len(stack) > 0 && stack[len(stack)-1] >= indent {
			stack = stack[:len(stack)-1]
		}
		word := strings.FieldsFunc(trimmed, func(r rune) bool { return !isIdentRune(r) })
		if len(word) > 0 && controlWords[word[0]] && strings.HasSuffix(trimmed, ":") {
			stack = append(stack, indent)
			if len(stack) > maxDepth {
				maxDepth, maxLine = len(stack), n+1
			}
		}
	}
	return maxDepth, maxLine
}

func longFunction(content string) (codeSmell, bool) {
	loc := funcSignature.FindStringIndex(content)
	if loc == nil {
		return codeSmell{}, false
	}
	lines := 0
	for _, l := range strings.Split(content[loc[0]:], "\n") {
		if strings.TrimSpace(l) != "" {
			lines++
		}
	}
	if lines <= maxFunctionLines {
		return codeSmell{}, false
	}
	severity := types.PriorityMedium
	if lines > 2*maxFunctionLines {
		severity = types.PriorityHigh
	}
	return codeSmell{
		name:      SmellLongFunction,
		title:     fmt.Sprintf("Long function (%d lines)", lines),
		summary:   fmt.Sprintf("The function body spans %d non-blank lines; functions over %d lines usually do more than one thing.", lines, maxFunctionLines),
		severity:  severity,
		metric:    "lines",
		value:     lines,
		threshold: maxFunctionLines,
		line:      lineOf(content, loc[0]),
		snippet:   truncate(content[loc[0]:loc[1]], 120),
		score:     0.55 + 0.005*float64(lines-maxFunctionLines),
		rec:       types.Recommendation{Title: "Split the function", Description: "Extract cohesive steps into named helpers.", Priority: types.PriorityMedium},
	}, true
}

func magicNumbers(content string) (codeSmell, bool) {
	seen := make(map[string]bool)
	var first string
	firstLine := 0
	for n, l := range strings.Split(content, "\n") {
		if constLine.MatchString(l) {
			continue
		}
		for _, num := range numberLiteral.FindAllString(l, -1) {
			if ordinaryNumbers[num] || seen[num] {
				continue
			}
			if _, err := strconv.ParseFloat(num, 64); err != nil {
				continue
			}
			seen[num] = true
			if first == "" {
				first, firstLine = strings.TrimSpace(l), n+1
			}
		}
	}
	if len(seen) < minMagicNumbers {
		return codeSmell{}, false
	}
	return codeSmell{
		name:      SmellMagicNumbers,
		title:     fmt.Sprintf("Magic numbers (%d distinct literals)", len(seen)),
		summary:   fmt.Sprintf("The code uses %d unexplained numeric literals.", len(seen)),
		severity:  types.PriorityLow,
		metric:    "numeric_literals",
		value:     len(seen),
		threshold: minMagicNumbers,
		line:      firstLine,
		snippet:   truncate(first, 120),
		score:     0.5 + 0.05*float64(len(seen)-minMagicNumbers),
		rec:       types.Recommendation{Title: "Name numeric constants", Description: "Replace literals with named constants that explain their meaning.", Priority: types.PriorityLow},
	}, true
}

func debugStatements(content string) (codeSmell, bool) {
	locs := debugPrint.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return codeSmell{}, false
	}
	line := lineOf(content, locs[0][0])
	return codeSmell{
		name:      SmellDebugStatements,
		title:     fmt.Sprintf("Debug output left in code (%d statements)", len(locs)),
		summary:   fmt.Sprintf("Found %d debug print statements that should use structured logging or be removed.", len(locs)),
		severity:  types.PriorityLow,
		metric:    "debug_statements",
		value:     len(locs),
		threshold: 0,
		line:      line,
		snippet:   snippetAt(content, line),
		score:     0.5 + 0.05*float64(len(locs)-1),
		rec:       types.Recommendation{Title: "Replace debug prints with a logger", Priority: types.PriorityLow},
	}, true
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// lineOf returns the 1-based line containing byte offset off.
func lineOf(content string, off int) int {
	return strings.Count(content[:off], "\n") + 1
}

func snippetAt(content string, line int) string {
	lines := strings.Split(content, "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	return truncate(lines[line-1], 120)
}
