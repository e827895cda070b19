package processor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/memento-insights/internal/lenient"
	"github.com/scrypster/memento-insights/internal/llm"
	"github.com/scrypster/memento-insights/pkg/types"
)

// Analysis focuses applied to each cluster template.
const (
	FocusTechnicalEvolution   = "technical_evolution"
	FocusRootCause            = "root_cause"
	FocusDecisionImpact       = "decision_impact"
	FocusKnowledgeSynthesis   = "knowledge_synthesis"
	FocusWorkflowOptimization = "workflow_optimization"
	FocusSecurityPatterns     = "security_patterns"
	FocusCrossCutting         = "cross_cutting_patterns"
)

// Focuses lists every analysis focus in application order.
var Focuses = []string{
	FocusTechnicalEvolution,
	FocusRootCause,
	FocusDecisionImpact,
	FocusKnowledgeSynthesis,
	FocusWorkflowOptimization,
	FocusSecurityPatterns,
	FocusCrossCutting,
}

var focusCategories = map[string]string{
	FocusTechnicalEvolution:   types.CategoryArchitectural,
	FocusRootCause:            types.CategoryDebugging,
	FocusDecisionImpact:       types.CategoryDecisionMaking,
	FocusKnowledgeSynthesis:   types.CategoryMetaLearning,
	FocusWorkflowOptimization: types.CategoryWorkflow,
	FocusSecurityPatterns:     types.CategorySecurity,
	FocusCrossCutting:         types.CategoryDesignPattern,
}

// Cluster analysis methods recorded in ClusterDetail.
const (
	ClusterMethodTemplate = "template"
	ClusterMethodDirect   = "direct"
	ClusterMethodKeyword  = "keyword"
)

var (
	securityKeywords = []string{"security", "vulnerability", "auth", "injection", "xss", "csrf", "secret", "password", "token"}
	workflowKeywords = []string{"workflow", "pipeline", "deploy", "release", "automation", "process", "sprint", "handoff"}
)

const (
	maxClusterMembersInPrompt = 30
	memberContentLimit        = 400
	defaultClusterConfidence  = 0.7
)

const directClusterPrompt = `Analyze these {member_count} related memories spanning {time_span_days} days.
Memory types: {memory_types}
Common tags: {common_tags}
Common themes: {common_themes}

Memories:
{memories}

Describe the most important pattern that connects them.
Return JSON only: {"title": "...", "summary": "...", "confidence": 0.0, "key_findings": ["..."], "recommendations": ["..."]}`

// ClusteringProcessor analyzes groups of related memories. It only runs in
// batch mode; Process is a no-op.
type ClusteringProcessor struct {
	llm      llm.TextGenerator
	catalog  *TemplateCatalog
	settings Settings
	logger   *zap.Logger
}

var _ ClusterProcessor = (*ClusteringProcessor)(nil)

// NewClusteringProcessor builds a clustering processor over the cluster-analysis templates.
func NewClusteringProcessor(deps Deps) *ClusteringProcessor {
	return &ClusteringProcessor{
		llm:      deps.LLM,
		catalog:  NewTemplateCatalog(deps.Templates, types.TemplateCategoryClusterAnalysis),
		settings: deps.Settings.withDefaults(),
		logger:   deps.logger(NameClustering),
	}
}

// DetectionMethod implements Processor.
func (p *ClusteringProcessor) DetectionMethod() string { return MethodCluster }

// Initialize loads the template catalog.
func (p *ClusteringProcessor) Initialize(ctx context.Context) error {
	return p.catalog.Reload(ctx)
}

// Reload refreshes the template catalog from the store.
func (p *ClusteringProcessor) Reload(ctx context.Context) error {
	return p.catalog.Reload(ctx)
}

// Process implements Processor. Single memories are never clustered.
func (p *ClusteringProcessor) Process(ctx context.Context, memory *types.Memory, opts Options) ([]*types.Insight, error) {
	return nil, nil
}

// ProcessCluster analyzes cluster when given, otherwise forms clusters from
// memories. Clusters smaller than the minimum size are skipped.
func (p *ClusteringProcessor) ProcessCluster(ctx context.Context, memories []*types.Memory, cluster *types.Cluster, opts Options) ([]*types.Insight, error) {
	var clusters []*types.Cluster
	if cluster != nil {
		clusters = []*types.Cluster{withContent(cluster)}
	} else {
		clusters = p.FormClusters(memories)
	}

	var out []*types.Insight
	for _, c := range clusters {
		if c.Size() < p.settings.ClusterMinSize {
			p.logger.Debug("skipping small cluster", zap.String("cluster_id", c.ID), zap.Int("size", c.Size()))
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out = append(out, p.analyze(ctx, c, opts)...)
	}
	return out, nil
}

// withContent rebuilds c without members that have no content. c is returned
// unchanged when every member has content.
func withContent(c *types.Cluster) *types.Cluster {
	usable := make([]*types.Memory, 0, len(c.Memories))
	for _, m := range c.Memories {
		if m.HasContent() {
			usable = append(usable, m)
		}
	}
	if len(usable) == len(c.Memories) {
		return c
	}
	return types.NewCluster(c.ID, c.Basis, usable)
}

// FormClusters groups memories by content-vector similarity first, then by
// memory type. Memories without content are ignored; groups below the
// minimum size are dropped.
func (p *ClusteringProcessor) FormClusters(memories []*types.Memory) []*types.Cluster {
	var usable []*types.Memory
	for _, m := range memories {
		if m.HasContent() {
			usable = append(usable, m)
		}
	}

	var clusters []*types.Cluster
	assigned := make(map[string]bool)

	var withVectors []*types.Memory
	for _, m := range usable {
		if len(m.ContentVector) > 0 {
			withVectors = append(withVectors, m)
		}
	}
	if len(withVectors) >= p.settings.ClusterMinSize {
		for i, seed := range withVectors {
			if assigned[seed.ID] {
				continue
			}
			group := []*types.Memory{seed}
			for _, m := range withVectors[i+1:] {
				if assigned[m.ID] {
					continue
				}
				if CosineSimilarity(seed.ContentVector, m.ContentVector) >= p.settings.SimilarityThreshold {
					group = append(group, m)
				}
			}
			if len(group) < p.settings.ClusterMinSize {
				continue
			}
			for _, m := range group {
				assigned[m.ID] = true
			}
			clusters = append(clusters, types.NewCluster(fmt.Sprintf("similarity:%s", seed.ID), "similarity", group))
		}
	}

	byType := make(map[string][]*types.Memory)
	var order []string
	for _, m := range usable {
		if assigned[m.ID] {
			continue
		}
		t := memoryTypeOr(m)
		if _, ok := byType[t]; !ok {
			order = append(order, t)
		}
		byType[t] = append(byType[t], m)
	}
	for _, t := range order {
		if len(byType[t]) < p.settings.ClusterMinSize {
			continue
		}
		clusters = append(clusters, types.NewCluster("type:"+t, "type", byType[t]))
	}
	return clusters
}

func (p *ClusteringProcessor) analyze(ctx context.Context, c *types.Cluster, opts Options) []*types.Insight {
	if p.llm == nil {
		return []*types.Insight{p.keywordSummary(c)}
	}

	templates := RankTemplates(p.catalog.All(), c)
	if len(templates) == 0 {
		if in := p.direct(ctx, c); in != nil {
			return []*types.Insight{in}
		}
		return []*types.Insight{p.keywordSummary(c)}
	}
	if opts.RealTime {
		templates = templates[:1]
	}

	var out []*types.Insight
	failures := 0
	for _, tmpl := range templates {
		for _, focus := range Focuses {
			if ctx.Err() != nil {
				break
			}
			response, err := p.llm.Generate(ctx, tmpl.Render(clusterVars(c, focus)), llm.GenerateOptions{
				Temperature: tmpl.Temperature,
				MaxTokens:   tmpl.MaxTokens,
			})
			if err != nil {
				failures++
				p.logger.Warn("cluster analysis call failed",
					zap.String("cluster_id", c.ID),
					zap.String("template", tmpl.Name),
					zap.String("focus", focus),
					zap.Error(err))
				continue
			}
			a, ok := parseClusterAnalysis(response)
			if !ok {
				p.logger.Debug("unparseable cluster analysis",
					zap.String("cluster_id", c.ID),
					zap.String("template", tmpl.Name),
					zap.String("focus", focus))
				continue
			}
			out = append(out, buildClusterInsight(c, tmpl.Name, focus, ClusterMethodTemplate, a, response))
		}
	}

	if len(out) == 0 {
		p.logger.Warn("no template produced a cluster insight, using keyword summary",
			zap.String("cluster_id", c.ID), zap.Int("failures", failures))
		return []*types.Insight{p.keywordSummary(c)}
	}
	return out
}

// direct runs a single built-in prompt when no templates are configured.
func (p *ClusteringProcessor) direct(ctx context.Context, c *types.Cluster) *types.Insight {
	prompt := (&types.AnalysisTemplate{PromptTemplate: directClusterPrompt}).Render(clusterVars(c, FocusCrossCutting))
	response, err := p.llm.Generate(ctx, prompt, llm.GenerateOptions{Temperature: 0.4, MaxTokens: 2000})
	if err != nil {
		p.logger.Warn("direct cluster analysis failed", zap.String("cluster_id", c.ID), zap.Error(err))
		return nil
	}
	a, ok := parseClusterAnalysis(response)
	if !ok {
		return nil
	}
	return buildClusterInsight(c, ClusterMethodDirect, FocusCrossCutting, ClusterMethodDirect, a, response)
}

// keywordSummary describes a cluster from term frequencies alone.
func (p *ClusteringProcessor) keywordSummary(c *types.Cluster) *types.Insight {
	themes := c.CommonThemes
	if len(themes) > 5 {
		themes = themes[:5]
	}
	a := clusterAnalysis{
		Title:      fmt.Sprintf("Recurring themes across %d %s memories", c.Size(), dominantType(c)),
		Confidence: 0.5 + 0.05*math.Min(float64(len(themes)), 3),
	}
	switch {
	case len(themes) > 0:
		a.Summary = "Members repeatedly mention " + strings.Join(themes, ", ") + "."
	case len(c.CommonTags) > 0:
		a.Summary = "Members share the tags " + strings.Join(c.CommonTags, ", ") + "."
	default:
		a.Summary = fmt.Sprintf("%d memories of the same kind with no dominant shared terms.", c.Size())
		a.Confidence = 0.4
	}
	a.Findings = themes
	return buildClusterInsight(c, ClusterMethodKeyword, FocusKnowledgeSynthesis, ClusterMethodKeyword, a, "")
}

type clusterAnalysis struct {
	Title           string
	Summary         string
	Confidence      float64
	Findings        []string
	Recommendations []string
}

func parseClusterAnalysis(response string) (clusterAnalysis, bool) {
	res := lenient.Parse(response)
	obj, ok := res.Object()
	if !ok {
		return clusterAnalysis{}, false
	}
	a := clusterAnalysis{
		Title:           firstString(obj, "title", "name"),
		Summary:         firstString(obj, "summary", "insight", "description"),
		Confidence:      ClampConfidence(numberOr(obj["confidence"], defaultClusterConfidence)),
		Findings:        stringList(obj["key_findings"]),
		Recommendations: stringList(obj["recommendations"]),
	}
	if a.Summary == "" && len(a.Findings) > 0 {
		n := len(a.Findings)
		if n > 2 {
			n = 2
		}
		a.Summary = strings.Join(a.Findings[:n], " ")
	}
	if a.Summary == "" {
		return clusterAnalysis{}, false
	}
	return a, true
}

func buildClusterInsight(c *types.Cluster, template, focus, method string, a clusterAnalysis, raw string) *types.Insight {
	category := focusCategories[focus]
	title := a.Title
	if title == "" {
		title = fmt.Sprintf("%s across %d memories", titleCase(focus), c.Size())
	}

	in := NewDraft(nil, types.InsightCluster, category, title, a.Summary, MethodCluster)
	in.SourceType = types.SourceMemoryCluster
	in.SourceIDs = c.MemberIDs()
	if len(c.Memories) > 0 {
		in.ProjectID = c.Memories[0].ProjectID
	}
	in.Subcategory = focus
	in.ConfidenceScore = ClampConfidence(a.Confidence)

	AddTag(in, "cluster")
	AddTag(in, focus)
	AddTag(in, template)
	for i, tag := range c.CommonTags {
		if i == 5 {
			break
		}
		AddTag(in, tag)
	}
	for _, f := range a.Findings {
		AddEvidence(in, types.Evidence{Type: "finding", Description: f, Source: c.ID, Category: category})
	}
	for _, r := range a.Recommendations {
		AddRecommendation(in, types.Recommendation{Title: truncate(r, 120), Description: r, Priority: types.PriorityMedium, Category: category})
	}
	in.SetDetail(types.ClusterDetail{
		ClusterID:    c.ID,
		Template:     template,
		Focus:        focus,
		MemberCount:  c.Size(),
		TimeSpanDays: c.TimeSpanDays,
		CommonTags:   c.CommonTags,
		CommonThemes: c.CommonThemes,
		Method:       method,
		RawAnalysis:  truncate(raw, 2000),
	})
	return in
}

func clusterVars(c *types.Cluster, focus string) map[string]string {
	counts := c.TypeCounts()
	typeNames := make([]string, 0, len(counts))
	for t := range counts {
		typeNames = append(typeNames, t)
	}
	sort.Strings(typeNames)
	typeList := make([]string, len(typeNames))
	for i, t := range typeNames {
		name := t
		if name == "" {
			name = types.MemoryTypeGeneral
		}
		typeList[i] = fmt.Sprintf("%s: %d", name, counts[t])
	}

	var members strings.Builder
	for i, m := range c.Memories {
		if i == maxClusterMembersInPrompt {
			fmt.Fprintf(&members, "... and %d more\n", c.Size()-i)
			break
		}
		date := ""
		if !m.CreatedAt.IsZero() {
			date = ", " + m.CreatedAt.Format("2006-01-02")
		}
		fmt.Fprintf(&members, "[%d] (%s%s) %s\n\n", i+1, memoryTypeOr(m), date, truncate(m.Content, memberContentLimit))
	}

	return map[string]string{
		"member_count":   fmt.Sprintf("%d", c.Size()),
		"time_span_days": fmt.Sprintf("%d", c.TimeSpanDays),
		"focus":          strings.ReplaceAll(focus, "_", " "),
		"memory_types":   strings.Join(typeList, ", "),
		"common_tags":    joinOrNone(c.CommonTags),
		"common_themes":  joinOrNone(c.CommonThemes),
		"memories":       strings.TrimSpace(members.String()),
	}
}

// ScoreTemplate rates how well a cluster-analysis template fits a cluster's composition.
func ScoreTemplate(t *types.AnalysisTemplate, c *types.Cluster) int {
	score := 0
	for _, tag := range c.CommonTags {
		if t.HasTag(tag) {
			score++
		}
	}

	counts := c.TypeCounts()
	text := clusterText(c)
	about := func(keys ...string) bool {
		name := strings.ToLower(t.Name)
		for _, k := range keys {
			if t.HasTag(k) || strings.Contains(name, k) {
				return true
			}
		}
		return false
	}

	if counts[types.MemoryTypeDecision]+counts[types.MemoryTypeArchitecture] > 0 && about("decision") {
		score += 3
	}
	if containsAny(text, securityKeywords) && about("security") {
		score += 4
	}
	if counts[types.MemoryTypeBug]+counts[types.MemoryTypeError] > 0 && about("root_cause", "bug", "debug") {
		score += 3
	}
	if containsAny(text, workflowKeywords) && about("workflow") {
		score += 2
	}
	if c.TimeSpanDays >= 7 && about("evolution") {
		score += 2
	}
	if counts[types.MemoryTypeCode] > 0 && about("code", "quality") {
		score += 2
	}
	return score
}

// RankTemplates orders templates by ScoreTemplate, most recently updated first on ties.
func RankTemplates(templates []*types.AnalysisTemplate, c *types.Cluster) []*types.AnalysisTemplate {
	ranked := make([]*types.AnalysisTemplate, len(templates))
	copy(ranked, templates)
	scores := make(map[*types.AnalysisTemplate]int, len(ranked))
	for _, t := range ranked {
		scores[t] = ScoreTemplate(t, c)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if scores[a] != scores[b] {
			return scores[a] > scores[b]
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.Name < b.Name
	})
	return ranked
}

// SelectTemplate returns the best-scoring template for a cluster, or nil.
func SelectTemplate(templates []*types.AnalysisTemplate, c *types.Cluster) *types.AnalysisTemplate {
	ranked := RankTemplates(templates, c)
	if len(ranked) == 0 {
		return nil
	}
	return ranked[0]
}

func clusterText(c *types.Cluster) string {
	var b strings.Builder
	for _, m := range c.Memories {
		b.WriteString(strings.ToLower(m.Content))
		b.WriteByte(' ')
		b.WriteString(strings.ToLower(strings.Join(m.Tags, " ")))
		b.WriteByte(' ')
	}
	return b.String()
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func dominantType(c *types.Cluster) string {
	best, bestN := types.MemoryTypeGeneral, 0
	for t, n := range c.TypeCounts() {
		if t != "" && (n > bestN || (n == bestN && t < best)) {
			best, bestN = t, n
		}
	}
	return best
}

func joinOrNone(s []string) string {
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, ", ")
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// the vectors differ in length or either is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
