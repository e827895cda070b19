package processor

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/memento-insights/pkg/types"
)

type errorClass struct {
	name string
	re   *regexp.Regexp
}

var errorClasses = []errorClass{
	{"null_reference", regexp.MustCompile(`(?i)\b(null pointer|nil pointer|nil map|NullPointerException|null reference|undefined is not|cannot read propert(y|ies) of (undefined|null)|NoneType)\b`)},
	{"timeout", regexp.MustCompile(`(?i)\b(time[d ]?out|timed out|deadline exceeded|context deadline)\b`)},
	{"race_condition", regexp.MustCompile(`(?i)\b(race condition|data race|concurrent map (read|write|writes|iteration)|deadlock)\b`)},
	{"off_by_one", regexp.MustCompile(`(?i)\b(off[- ]by[- ]one|index out of (range|bounds)|ArrayIndexOutOfBounds)\b`)},
	{"memory_leak", regexp.MustCompile(`(?i)\b(memory leak|leaking memory|out of memory|OOM|heap exhaust\w*)\b`)},
	{"permission", regexp.MustCompile(`(?i)\b(permission denied|access denied|forbidden|unauthori[sz]ed|EACCES|EPERM)\b`)},
}

var (
	stackTrace  = regexp.MustCompile(`(?m)(^\s+at \S+[.(]|goroutine \d+ \[|Traceback \(most recent call last\)|\.(go|py|js|ts|java|rb|rs):\d+|Exception in thread|panic: )`)
	rootCauseRe = regexp.MustCompile(`(?i)\b(root cause|caused by|because|was due to|the problem was|the issue was)\b`)
	fixRe       = regexp.MustCompile(`(?i)\b(?:fixed by|the fix|fix was|resolved by|solution|workaround|solved by)\b|\bfix:`)
	sentenceEnd = regexp.MustCompile(`[.!?\n]`)
)

// highSeverityClasses escalate a bug's severity.
var highSeverityClasses = map[string]bool{"race_condition": true, "memory_leak": true, "permission": true}

// BugAnalyzer extracts error classes, stack traces, root causes and fixes from
// bug reports.
type BugAnalyzer struct {
	logger *zap.Logger
}

// NewBugAnalyzer builds the bug-analysis processor.
func NewBugAnalyzer(deps Deps) *BugAnalyzer {
	return &BugAnalyzer{logger: deps.logger(NameBugAnalyzer)}
}

// DetectionMethod implements Processor.
func (a *BugAnalyzer) DetectionMethod() string { return MethodBug }

// Process implements Processor. It returns at most one bug insight.
func (a *BugAnalyzer) Process(ctx context.Context, memory *types.Memory, opts Options) ([]*types.Insight, error) {
	if !memory.HasContent() {
		return nil, nil
	}
	content := memory.Content

	var classes []string
	for _, c := range errorClasses {
		if c.re.MatchString(content) {
			classes = append(classes, c.name)
		}
	}
	hasTrace := stackTrace.MatchString(content)
	rootCause := sentenceAround(content, rootCauseRe)
	fix := sentenceAround(content, fixRe)

	if len(classes) == 0 && !hasTrace && rootCause == "" {
		return nil, nil
	}

	severity := types.PriorityMedium
	for _, c := range classes {
		if highSeverityClasses[c] {
			severity = types.PriorityHigh
		}
	}

	confidence := 0.5 + math.Min(0.2, 0.1*float64(len(classes)))
	if hasTrace {
		confidence += 0.1
	}
	if rootCause != "" {
		confidence += 0.1
	}
	if fix != "" {
		confidence += 0.05
	}

	title := "Bug report analysis"
	if len(classes) > 0 {
		title = "Bug: " + strings.ReplaceAll(strings.Join(classes, ", "), "_", " ")
	}
	summary := fmt.Sprintf("Bug memory with %d error class(es)", len(classes))
	if hasTrace {
		summary += " and a stack trace"
	}
	summary += "."
	if rootCause != "" {
		summary += " Root cause: " + rootCause
	}

	in := NewDraft(memory, types.InsightBug, types.CategoryDebugging, title, summary, MethodBug)
	in.ConfidenceScore = ClampConfidence(math.Min(confidence, 0.9))
	if len(classes) > 0 {
		in.Subcategory = classes[0]
	}
	for _, c := range classes {
		AddTag(in, c)
		AddPattern(in, types.Pattern{Name: c, Category: types.CategoryDebugging, Confidence: in.ConfidenceScore})
	}
	AddTag(in, "bug")
	if rootCause != "" {
		AddEvidence(in, types.Evidence{Type: "root_cause", Description: rootCause, Source: memory.ID, Category: types.CategoryDebugging})
	}
	if fix != "" {
		AddEvidence(in, types.Evidence{Type: "fix", Description: fix, Source: memory.ID, Category: types.CategoryDebugging})
	}
	if hasTrace {
		AddEvidence(in, types.Evidence{Type: "stack_trace", Description: truncate(stackTrace.FindString(content), 120), Source: memory.ID})
	}

	if fix == "" {
		AddRecommendation(in, types.Recommendation{Title: "Document the fix", Description: "Record how the bug was resolved so it can be recognized next time.", Priority: types.PriorityHigh, Category: types.CategoryDebugging})
	}
	if rootCause == "" {
		AddRecommendation(in, types.Recommendation{Title: "Identify the root cause", Description: "The report describes symptoms but not why they occurred.", Priority: types.PriorityMedium, Category: types.CategoryDebugging})
	}
	for _, c := range classes {
		switch c {
		case "race_condition":
			AddRecommendation(in, types.Recommendation{Title: "Run tests with the race detector", Priority: types.PriorityHigh, Category: types.CategoryDebugging})
		case "timeout":
			AddRecommendation(in, types.Recommendation{Title: "Review timeout and retry budgets", Priority: types.PriorityMedium, Category: types.CategoryDebugging})
		case "null_reference":
			AddRecommendation(in, types.Recommendation{Title: "Add nil checks at the boundary", Priority: types.PriorityMedium, Category: types.CategoryDebugging})
		}
	}

	in.SetDetail(types.BugDetail{
		ErrorClasses:  classes,
		HasStackTrace: hasTrace,
		RootCause:     rootCause,
		Fix:           fix,
		Severity:      severity,
	})
	return []*types.Insight{in}, nil
}

// sentenceAround returns the sentence containing the first match of re.
func sentenceAround(content string, re *regexp.Regexp) string {
	loc := re.FindStringIndex(content)
	if loc == nil {
		return ""
	}
	start := 0
	if idx := sentenceEnd.FindAllStringIndex(content[:loc[0]], -1); len(idx) > 0 {
		start = idx[len(idx)-1][1]
	}
	end := len(content)
	if idx := sentenceEnd.FindStringIndex(content[loc[1]:]); idx != nil {
		end = loc[1] + idx[1]
	}
	return truncate(content[start:end], 200)
}
