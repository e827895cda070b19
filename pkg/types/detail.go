package types

// Detail is a typed variant of an insight's detailed_content payload.
// Construction sites build one of the concrete variants so that field names are
// checked at compile time; persistence stores the map form.
type Detail interface {
	Kind() string
	ToMap() map[string]interface{}
}

// PatternDetail backs insights produced by the category and template processors.
type PatternDetail struct {
	Category      string
	PatternCount  int
	Templates     []string
	Technologies  []string
	AnalysisNotes string
}

func (d PatternDetail) Kind() string { return "pattern" }

func (d PatternDetail) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"kind":           d.Kind(),
		"category":       d.Category,
		"pattern_count":  d.PatternCount,
		"templates":      stringsOrEmpty(d.Templates),
		"technologies":   stringsOrEmpty(d.Technologies),
		"analysis_notes": d.AnalysisNotes,
	}
}

// CodeSmellDetail backs code-quality findings.
type CodeSmellDetail struct {
	Smell      string
	Severity   string
	Metric     string
	Value      int
	Threshold  int
	Snippet    string
	LineNumber int
}

func (d CodeSmellDetail) Kind() string { return "code_smell" }

func (d CodeSmellDetail) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"kind":        d.Kind(),
		"smell":       d.Smell,
		"severity":    d.Severity,
		"metric":      d.Metric,
		"value":       d.Value,
		"threshold":   d.Threshold,
		"snippet":     d.Snippet,
		"line_number": d.LineNumber,
	}
}

// BugDetail backs bug-analysis findings.
type BugDetail struct {
	ErrorClasses  []string
	HasStackTrace bool
	RootCause     string
	Fix           string
	Severity      string
}

func (d BugDetail) Kind() string { return "bug" }

func (d BugDetail) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"kind":            d.Kind(),
		"error_classes":   stringsOrEmpty(d.ErrorClasses),
		"has_stack_trace": d.HasStackTrace,
		"root_cause":      d.RootCause,
		"fix":             d.Fix,
		"severity":        d.Severity,
	}
}

// DecisionDetail backs decision-analysis findings.
type DecisionDetail struct {
	Decision     string
	Alternatives []string
	TradeOffs    []string
	Rationale    string
}

func (d DecisionDetail) Kind() string { return "decision" }

func (d DecisionDetail) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"kind":         d.Kind(),
		"decision":     d.Decision,
		"alternatives": stringsOrEmpty(d.Alternatives),
		"trade_offs":   stringsOrEmpty(d.TradeOffs),
		"rationale":    d.Rationale,
	}
}

// ReasoningDetail backs reasoning-sequence findings.
type ReasoningDetail struct {
	Steps       []string
	Hypotheses  []string
	Conclusions []string
	StepCount   int
}

func (d ReasoningDetail) Kind() string { return "reasoning" }

func (d ReasoningDetail) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"kind":        d.Kind(),
		"steps":       stringsOrEmpty(d.Steps),
		"hypotheses":  stringsOrEmpty(d.Hypotheses),
		"conclusions": stringsOrEmpty(d.Conclusions),
		"step_count":  d.StepCount,
	}
}

// ClusterDetail backs insights produced from a memory cluster.
type ClusterDetail struct {
	ClusterID    string
	Template     string
	Focus        string
	MemberCount  int
	TimeSpanDays int
	CommonTags   []string
	CommonThemes []string
	Method       string // template, direct, keyword
	RawAnalysis  string
}

func (d ClusterDetail) Kind() string { return "cluster" }

func (d ClusterDetail) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"kind":           d.Kind(),
		"cluster_id":     d.ClusterID,
		"template":       d.Template,
		"focus":          d.Focus,
		"member_count":   d.MemberCount,
		"time_span_days": d.TimeSpanDays,
		"common_tags":    stringsOrEmpty(d.CommonTags),
		"common_themes":  stringsOrEmpty(d.CommonThemes),
		"method":         d.Method,
		"raw_analysis":   d.RawAnalysis,
	}
}

// DiagnosticDetail backs the low-confidence insight emitted when a processor fails.
type DiagnosticDetail struct {
	Processor string
	Error     string
	MemoryID  string
}

func (d DiagnosticDetail) Kind() string { return "diagnostic" }

func (d DiagnosticDetail) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"kind":      d.Kind(),
		"processor": d.Processor,
		"error":     d.Error,
		"memory_id": d.MemoryID,
	}
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
