package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/pkg/types"
)

var insightColumnList = []string{
	"id", "project_id", "insight_type", "insight_category", "insight_subcategory",
	"title", "summary", "detailed_content", "source_type", "source_ids",
	"detection_method", "confidence_score", "validation_status", "rejection_reason",
	"related_insight_ids", "supersedes_insight_id", "contradicts_insight_ids",
	"technologies", "patterns", "recommendations", "evidence", "tags", "embedding",
	"signature", "created_at", "updated_at",
}

var insightColumns = strings.Join(insightColumnList, ", ")

// similarityScanLimit bounds how many recent insights SimilarInsights ranks.
const similarityScanLimit = 500

func prefixedInsightColumns(alias string) string {
	cols := make([]string, len(insightColumnList))
	for i, c := range insightColumnList {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// InsertInsight inserts a new insight and its source index rows.
func (s *Store) InsertInsight(ctx context.Context, insight *types.Insight) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertInsight(ctx, tx, insight); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit insight: %w", err)
	}
	return nil
}

// InsertWithSupersession runs the dedup-window lookup and the conditional
// insert in one transaction. The store's single connection makes the
// transaction exclusive across goroutines of this process.
func (s *Store) InsertWithSupersession(ctx context.Context, insight *types.Insight, window time.Duration) (storage.StoreOutcome, error) {
	if insight == nil {
		return storage.OutcomeInserted, storage.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.OutcomeInserted, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	outcome := storage.OutcomeInserted
	if window > 0 {
		since := time.Now().Add(-window)
		existing, err := findRecentBySignature(ctx, tx, insight.ProjectID, insight.Signature(), since)
		switch {
		case err == storage.ErrNotFound:
		case err != nil:
			return outcome, err
		case sameFinding(existing, insight):
			insight.ID = existing.ID
			return storage.OutcomeCollapsed, nil
		default:
			insight.SupersedesInsightID = existing.ID
			outcome = storage.OutcomeSuperseded
		}
	}

	if err := insertInsight(ctx, tx, insight); err != nil {
		return outcome, err
	}
	if err := tx.Commit(); err != nil {
		return outcome, fmt.Errorf("failed to commit insight: %w", err)
	}
	return outcome, nil
}

// sameFinding reports whether two insights carry the same summary and sources.
func sameFinding(a, b *types.Insight) bool {
	if strings.TrimSpace(a.Summary) != strings.TrimSpace(b.Summary) {
		return false
	}
	return equalSets(a.SourceIDs, b.SourceIDs)
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func insertInsight(ctx context.Context, q queryer, insight *types.Insight) error {
	if insight == nil {
		return storage.ErrInvalidInput
	}
	if insight.ID == "" {
		return fmt.Errorf("%w: insight ID is required", storage.ErrInvalidInput)
	}
	if len(insight.SourceIDs) == 0 {
		return fmt.Errorf("%w: insight source_ids must not be empty", storage.ErrInvalidInput)
	}
	if insight.ConfidenceScore < 0 || insight.ConfidenceScore > 1 {
		return fmt.Errorf("%w: confidence_score %.3f out of range", storage.ErrInvalidInput, insight.ConfidenceScore)
	}

	now := time.Now()
	if insight.CreatedAt.IsZero() {
		insight.CreatedAt = now
	}
	if insight.UpdatedAt.IsZero() {
		insight.UpdatedAt = insight.CreatedAt
	}
	if insight.ValidationStatus == "" {
		insight.ValidationStatus = types.ValidationPending
	}
	if insight.SourceType == "" {
		insight.SourceType = types.SourceMemory
	}

	args, err := insightArgs(insight)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO insights (`+insightColumns+`) VALUES (`+placeholders(len(insightColumnList))+`)`,
		args...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: insight %s", storage.ErrDuplicate, insight.ID)
		}
		return fmt.Errorf("failed to insert insight: %w", err)
	}

	for _, memoryID := range insight.SourceIDs {
		if _, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO insight_sources (insight_id, memory_id) VALUES (?, ?)`,
			insight.ID, memoryID); err != nil {
			return fmt.Errorf("failed to index insight source: %w", err)
		}
	}
	return nil
}

func insightArgs(in *types.Insight) ([]interface{}, error) {
	jsonFields := []struct {
		name  string
		value interface{}
	}{
		{"detailed_content", in.DetailedContent},
		{"source_ids", in.SourceIDs},
		{"related_insight_ids", in.RelatedInsightIDs},
		{"contradicts_insight_ids", in.ContradictsInsightIDs},
		{"technologies", in.Technologies},
		{"patterns", in.Patterns},
		{"recommendations", in.Recommendations},
		{"evidence", in.Evidence},
		{"tags", in.Tags},
		{"embedding", in.Embedding},
	}
	encoded := make(map[string]sql.NullString, len(jsonFields))
	for _, f := range jsonFields {
		v, err := marshalJSON(f.value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", f.name, err)
		}
		encoded[f.name] = v
	}

	return []interface{}{
		in.ID,
		in.ProjectID,
		string(in.InsightType),
		in.InsightCategory,
		nullableString(in.Subcategory),
		in.Title,
		in.Summary,
		encoded["detailed_content"],
		string(in.SourceType),
		encoded["source_ids"],
		in.DetectionMethod,
		in.ConfidenceScore,
		string(in.ValidationStatus),
		nullableString(in.RejectionReason),
		encoded["related_insight_ids"],
		nullableString(in.SupersedesInsightID),
		encoded["contradicts_insight_ids"],
		encoded["technologies"],
		encoded["patterns"],
		encoded["recommendations"],
		encoded["evidence"],
		encoded["tags"],
		encoded["embedding"],
		in.Signature(),
		formatTime(in.CreatedAt),
		formatTime(in.UpdatedAt),
	}, nil
}

func scanInsight(row rowScanner) (*types.Insight, error) {
	var (
		in                                     types.Insight
		insightType, sourceType, status        string
		subcategory, rejection, supersedes     sql.NullString
		detail, sourceIDs, related, contradict sql.NullString
		techs, patterns, recs, evidence        sql.NullString
		tags, embedding                        sql.NullString
		signature, createdAt, updatedAt        string
	)
	if err := row.Scan(
		&in.ID, &in.ProjectID, &insightType, &in.InsightCategory, &subcategory,
		&in.Title, &in.Summary, &detail, &sourceType, &sourceIDs,
		&in.DetectionMethod, &in.ConfidenceScore, &status, &rejection,
		&related, &supersedes, &contradict,
		&techs, &patterns, &recs, &evidence, &tags, &embedding,
		&signature, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	in.InsightType = types.InsightType(insightType)
	in.SourceType = types.SourceType(sourceType)
	in.ValidationStatus = types.ValidationStatus(status)
	in.Subcategory = subcategory.String
	in.RejectionReason = rejection.String
	in.SupersedesInsightID = supersedes.String

	decoders := []struct {
		ns    sql.NullString
		dst   interface{}
		field string
	}{
		{detail, &in.DetailedContent, "detailed_content"},
		{sourceIDs, &in.SourceIDs, "source_ids"},
		{related, &in.RelatedInsightIDs, "related_insight_ids"},
		{contradict, &in.ContradictsInsightIDs, "contradicts_insight_ids"},
		{techs, &in.Technologies, "technologies"},
		{patterns, &in.Patterns, "patterns"},
		{recs, &in.Recommendations, "recommendations"},
		{evidence, &in.Evidence, "evidence"},
		{tags, &in.Tags, "tags"},
		{embedding, &in.Embedding, "embedding"},
	}
	for _, d := range decoders {
		if err := unmarshalJSON(d.ns, d.dst, d.field); err != nil {
			return nil, err
		}
	}

	var err error
	if in.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if in.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &in, nil
}

func scanInsights(rows *sql.Rows) ([]*types.Insight, error) {
	defer rows.Close()
	var out []*types.Insight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan insight: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate insights: %w", err)
	}
	return out, nil
}

// FindRecentBySignature returns the newest matching insight created at or after since.
func (s *Store) FindRecentBySignature(ctx context.Context, projectID, signature string, since time.Time) (*types.Insight, error) {
	return findRecentBySignature(ctx, s.db, projectID, signature, since)
}

func findRecentBySignature(ctx context.Context, q queryer, projectID, signature string, since time.Time) (*types.Insight, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+insightColumns+` FROM insights
		WHERE project_id = ? AND signature = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT 1
	`, projectID, signature, formatTime(since))

	in, err := scanInsight(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find insight by signature: %w", err)
	}
	return in, nil
}

// GetInsight retrieves an insight by ID.
func (s *Store) GetInsight(ctx context.Context, id string) (*types.Insight, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: insight ID is required", storage.ErrInvalidInput)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+insightColumns+` FROM insights WHERE id = ?`, id)
	in, err := scanInsight(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get insight: %w", err)
	}
	return in, nil
}

// QueryInsights returns a filtered, paginated page of insights.
func (s *Store) QueryInsights(ctx context.Context, filter storage.InsightFilter) (*storage.PaginatedResult[types.Insight], error) {
	filter.Normalize()

	where, args := insightWhere(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM insights`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count insights: %w", err)
	}

	// SortBy and SortOrder are whitelisted by Normalize.
	query := fmt.Sprintf(`SELECT %s FROM insights%s ORDER BY %s %s, id ASC LIMIT ? OFFSET ?`,
		insightColumns, where, filter.SortBy, strings.ToUpper(filter.SortOrder))
	rows, err := s.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}
	found, err := scanInsights(rows)
	if err != nil {
		return nil, err
	}

	items := make([]types.Insight, 0, len(found))
	for _, in := range found {
		items = append(items, *in)
	}

	return &storage.PaginatedResult[types.Insight]{
		Items:    items,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.Limit,
		HasMore:  filter.Offset()+len(items) < total,
	}, nil
}

func insightWhere(f storage.InsightFilter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if len(f.Types) > 0 {
		clauses = append(clauses, "insight_type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if len(f.Categories) > 0 {
		clauses = append(clauses, "insight_category IN ("+placeholders(len(f.Categories))+")")
		for _, c := range f.Categories {
			args = append(args, c)
		}
	}
	if f.MinConfidence > 0 {
		clauses = append(clauses, "confidence_score >= ?")
		args = append(args, f.MinConfidence)
	}
	if f.ValidationStatus != "" {
		clauses = append(clauses, "validation_status = ?")
		args = append(args, string(f.ValidationStatus))
	}
	if f.SourceID != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM insight_sources s WHERE s.insight_id = insights.id AND s.memory_id = ?)")
		args = append(args, f.SourceID)
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		clauses = append(clauses, "(LOWER(title) LIKE ? OR LOWER(summary) LIKE ?)")
		args = append(args, like, like)
	}
	if !f.CreatedAfter.IsZero() {
		clauses = append(clauses, "created_at > ?")
		args = append(args, formatTime(f.CreatedAfter))
	}
	if !f.CreatedBefore.IsZero() {
		clauses = append(clauses, "created_at < ?")
		args = append(args, formatTime(f.CreatedBefore))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// FindBySourceIDs returns insights that reference any of the given memories.
func (s *Store) FindBySourceIDs(ctx context.Context, projectID string, sourceIDs []string, limit int) ([]*types.Insight, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	args := []interface{}{projectID}
	for _, id := range sourceIDs {
		args = append(args, id)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixedInsightColumns("i")+` FROM insights i
		WHERE i.project_id = ?
		  AND i.id IN (SELECT insight_id FROM insight_sources WHERE memory_id IN (`+placeholders(len(sourceIDs))+`))
		ORDER BY i.created_at DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find insights by source: %w", err)
	}
	return scanInsights(rows)
}

// FindByTypeCategory returns insights with the given type and category.
func (s *Store) FindByTypeCategory(ctx context.Context, projectID string, insightType types.InsightType, category string, limit int) ([]*types.Insight, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+insightColumns+` FROM insights
		WHERE project_id = ? AND insight_type = ? AND insight_category = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, projectID, string(insightType), category, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find insights by type: %w", err)
	}
	return scanInsights(rows)
}

// SimilarInsights ranks the most recent insights carrying an embedding by
// cosine similarity to embedding, most similar first.
func (s *Store) SimilarInsights(ctx context.Context, projectID string, embedding []float32, limit int) ([]*types.Insight, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}

	where := " WHERE embedding IS NOT NULL"
	var args []interface{}
	if projectID != "" {
		where += " AND project_id = ?"
		args = append(args, projectID)
	}
	args = append(args, similarityScanLimit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+insightColumns+` FROM insights`+where+` ORDER BY created_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan insights for similarity: %w", err)
	}
	candidates, err := scanInsights(rows)
	if err != nil {
		return nil, err
	}

	scored := candidates[:0]
	scores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		if len(c.Embedding) != len(embedding) {
			continue
		}
		scores[c.ID] = cosine(embedding, c.Embedding)
		scored = append(scored, c)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scores[scored[i].ID] > scores[scored[j].ID]
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func cosine(a, b []float32) float64 {
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

// InsightStats aggregates counts for a project ("" means all projects).
func (s *Store) InsightStats(ctx context.Context, projectID string) (*storage.InsightStats, error) {
	where := ""
	var args []interface{}
	if projectID != "" {
		where = " WHERE project_id = ?"
		args = append(args, projectID)
	}

	stats := &storage.InsightStats{
		ByType:     make(map[string]int),
		ByCategory: make(map[string]int),
		ByStatus:   make(map[string]int),
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(confidence_score) FROM insights`+where, args...).Scan(&stats.Total, &avg); err != nil {
		return nil, fmt.Errorf("failed to aggregate insights: %w", err)
	}
	stats.AverageConfidence = avg.Float64

	groups := []struct {
		column string
		dst    map[string]int
	}{
		{"insight_type", stats.ByType},
		{"insight_category", stats.ByCategory},
		{"validation_status", stats.ByStatus},
	}
	for _, g := range groups {
		if err := s.countBy(ctx, g.column, where, args, g.dst); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func (s *Store) countBy(ctx context.Context, column, where string, args []interface{}, dst map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s, COUNT(*) FROM insights%s GROUP BY %s`, column, where, column), args...)
	if err != nil {
		return fmt.Errorf("failed to count insights by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("failed to scan %s count: %w", column, err)
		}
		dst[key] = n
	}
	return rows.Err()
}
