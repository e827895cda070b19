package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/pkg/types"
)

const insightColumns = `id, project_id, insight_type, insight_category, insight_subcategory,
	title, summary, detailed_content, source_type, source_ids,
	detection_method, confidence_score, validation_status, rejection_reason,
	related_insight_ids, supersedes_insight_id, contradicts_insight_ids,
	technologies, patterns, recommendations, evidence, tags, embedding,
	signature, created_at, updated_at`

// similarityScanLimit bounds the in-process fallback when pgvector is absent.
const similarityScanLimit = 500

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// InsertInsight inserts a new insight row.
func (s *Store) InsertInsight(ctx context.Context, insight *types.Insight) error {
	return s.insertInsight(ctx, s.db, insight)
}

// InsertWithSupersession serialises writers of the same signature with a
// transaction-scoped advisory lock, then runs the dedup-window lookup and the
// conditional insert. Concurrent workers in other processes are covered too.
func (s *Store) InsertWithSupersession(ctx context.Context, insight *types.Insight, window time.Duration) (storage.StoreOutcome, error) {
	if insight == nil {
		return storage.OutcomeInserted, storage.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.OutcomeInserted, fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	signature := insight.Signature()
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`,
		insight.ProjectID+"|"+signature); err != nil {
		return storage.OutcomeInserted, fmt.Errorf("postgres: failed to lock signature: %w", err)
	}

	outcome := storage.OutcomeInserted
	if window > 0 {
		existing, err := findRecentBySignature(ctx, tx, insight.ProjectID, signature, time.Now().Add(-window))
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

	if err := s.insertInsight(ctx, tx, insight); err != nil {
		return outcome, err
	}
	if err := tx.Commit(); err != nil {
		return outcome, fmt.Errorf("postgres: failed to commit insight: %w", err)
	}
	return outcome, nil
}

func sameFinding(a, b *types.Insight) bool {
	if strings.TrimSpace(a.Summary) != strings.TrimSpace(b.Summary) {
		return false
	}
	if len(a.SourceIDs) != len(b.SourceIDs) {
		return false
	}
	x := append([]string(nil), a.SourceIDs...)
	y := append([]string(nil), b.SourceIDs...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func (s *Store) insertInsight(ctx context.Context, q queryer, in *types.Insight) error {
	if in == nil {
		return storage.ErrInvalidInput
	}
	if in.ID == "" {
		return fmt.Errorf("%w: insight ID is required", storage.ErrInvalidInput)
	}
	if len(in.SourceIDs) == 0 {
		return fmt.Errorf("%w: insight source_ids must not be empty", storage.ErrInvalidInput)
	}
	if in.ConfidenceScore < 0 || in.ConfidenceScore > 1 {
		return fmt.Errorf("%w: confidence_score %.3f out of range", storage.ErrInvalidInput, in.ConfidenceScore)
	}

	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	if in.UpdatedAt.IsZero() {
		in.UpdatedAt = in.CreatedAt
	}
	if in.ValidationStatus == "" {
		in.ValidationStatus = types.ValidationPending
	}
	if in.SourceType == "" {
		in.SourceType = types.SourceMemory
	}

	encoded := make(map[string]sql.NullString)
	for name, v := range map[string]interface{}{
		"detailed_content": in.DetailedContent,
		"technologies":     in.Technologies,
		"patterns":         in.Patterns,
		"recommendations":  in.Recommendations,
		"evidence":         in.Evidence,
		"embedding":        in.Embedding,
	} {
		ns, err := jsonb(v)
		if err != nil {
			return fmt.Errorf("postgres: failed to marshal %s: %w", name, err)
		}
		encoded[name] = ns
	}

	values := []interface{}{
		in.ID, in.ProjectID, string(in.InsightType), in.InsightCategory, nullableString(in.Subcategory),
		in.Title, in.Summary, encoded["detailed_content"], string(in.SourceType), pq.Array(in.SourceIDs),
		in.DetectionMethod, in.ConfidenceScore, string(in.ValidationStatus), nullableString(in.RejectionReason),
		pq.Array(in.RelatedInsightIDs), nullableString(in.SupersedesInsightID), pq.Array(in.ContradictsInsightIDs),
		encoded["technologies"], encoded["patterns"], encoded["recommendations"], encoded["evidence"],
		pq.Array(in.Tags), encoded["embedding"], in.Signature(), in.CreatedAt, in.UpdatedAt,
	}
	columns := insightColumns
	if s.pgvectorAvailable && len(in.Embedding) > 0 {
		columns += ", embedding_vec"
		values = append(values, pgvector.NewVector(in.Embedding))
	}
	ph := make([]string, len(values))
	for i := range values {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO insights (`+columns+`) VALUES (`+strings.Join(ph, ", ")+`)`, values...)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("%w: insight %s", storage.ErrDuplicate, in.ID)
		}
		return fmt.Errorf("postgres: failed to insert insight: %w", err)
	}
	return nil
}

func scanInsight(row rowScanner) (*types.Insight, error) {
	var (
		in                                 types.Insight
		insightType, sourceType, status    string
		subcategory, rejection, supersedes sql.NullString
		detail, techs, patterns            sql.NullString
		recs, evidence, embedding          sql.NullString
		signature                          string
	)
	if err := row.Scan(
		&in.ID, &in.ProjectID, &insightType, &in.InsightCategory, &subcategory,
		&in.Title, &in.Summary, &detail, &sourceType, pq.Array(&in.SourceIDs),
		&in.DetectionMethod, &in.ConfidenceScore, &status, &rejection,
		pq.Array(&in.RelatedInsightIDs), &supersedes, pq.Array(&in.ContradictsInsightIDs),
		&techs, &patterns, &recs, &evidence, pq.Array(&in.Tags), &embedding,
		&signature, &in.CreatedAt, &in.UpdatedAt,
	); err != nil {
		return nil, err
	}

	in.InsightType = types.InsightType(insightType)
	in.SourceType = types.SourceType(sourceType)
	in.ValidationStatus = types.ValidationStatus(status)
	in.Subcategory = subcategory.String
	in.RejectionReason = rejection.String
	in.SupersedesInsightID = supersedes.String

	for _, d := range []struct {
		ns    sql.NullString
		dst   interface{}
		field string
	}{
		{detail, &in.DetailedContent, "detailed_content"},
		{techs, &in.Technologies, "technologies"},
		{patterns, &in.Patterns, "patterns"},
		{recs, &in.Recommendations, "recommendations"},
		{evidence, &in.Evidence, "evidence"},
		{embedding, &in.Embedding, "embedding"},
	} {
		if err := unjsonb(d.ns, d.dst, d.field); err != nil {
			return nil, err
		}
	}
	return &in, nil
}

func scanInsights(rows *sql.Rows) ([]*types.Insight, error) {
	defer rows.Close()
	var out []*types.Insight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan insight: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to iterate insights: %w", err)
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
		WHERE project_id = $1 AND signature = $2 AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1
	`, projectID, signature, since)
	in, err := scanInsight(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to find insight by signature: %w", err)
	}
	return in, nil
}

// GetInsight retrieves an insight by ID.
func (s *Store) GetInsight(ctx context.Context, id string) (*types.Insight, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: insight ID is required", storage.ErrInvalidInput)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+insightColumns+` FROM insights WHERE id = $1`, id)
	in, err := scanInsight(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get insight: %w", err)
	}
	return in, nil
}

// QueryInsights returns a filtered, paginated page of insights.
func (s *Store) QueryInsights(ctx context.Context, filter storage.InsightFilter) (*storage.PaginatedResult[types.Insight], error) {
	filter.Normalize()

	a := &args{}
	where := insightWhere(filter, a)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM insights`+where, a.values...).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres: failed to count insights: %w", err)
	}

	// SortBy and SortOrder are whitelisted by Normalize.
	query := fmt.Sprintf(`SELECT %s FROM insights%s ORDER BY %s %s, id ASC LIMIT %s OFFSET %s`,
		insightColumns, where, filter.SortBy, strings.ToUpper(filter.SortOrder),
		a.add(filter.Limit), a.add(filter.Offset()))
	rows, err := s.db.QueryContext(ctx, query, a.values...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query insights: %w", err)
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

func insightWhere(f storage.InsightFilter, a *args) string {
	var clauses []string
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id = "+a.add(f.ProjectID))
	}
	if len(f.Types) > 0 {
		ts := make([]string, len(f.Types))
		for i, t := range f.Types {
			ts[i] = string(t)
		}
		clauses = append(clauses, "insight_type IN ("+a.list(ts)+")")
	}
	if len(f.Categories) > 0 {
		clauses = append(clauses, "insight_category IN ("+a.list(f.Categories)+")")
	}
	if f.MinConfidence > 0 {
		clauses = append(clauses, "confidence_score >= "+a.add(f.MinConfidence))
	}
	if f.ValidationStatus != "" {
		clauses = append(clauses, "validation_status = "+a.add(string(f.ValidationStatus)))
	}
	if f.SourceID != "" {
		clauses = append(clauses, a.add(f.SourceID)+" = ANY(source_ids)")
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		p := a.add("%" + q + "%")
		clauses = append(clauses, "(title ILIKE "+p+" OR summary ILIKE "+p+")")
	}
	if !f.CreatedAfter.IsZero() {
		clauses = append(clauses, "created_at > "+a.add(f.CreatedAfter))
	}
	if !f.CreatedBefore.IsZero() {
		clauses = append(clauses, "created_at < "+a.add(f.CreatedBefore))
	}
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

// FindBySourceIDs returns insights that reference any of the given memories.
func (s *Store) FindBySourceIDs(ctx context.Context, projectID string, sourceIDs []string, limit int) ([]*types.Insight, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+insightColumns+` FROM insights
		WHERE project_id = $1 AND source_ids && $2
		ORDER BY created_at DESC
		LIMIT $3
	`, projectID, pq.Array(sourceIDs), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to find insights by source: %w", err)
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
		WHERE project_id = $1 AND insight_type = $2 AND insight_category = $3
		ORDER BY created_at DESC
		LIMIT $4
	`, projectID, string(insightType), category, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to find insights by type: %w", err)
	}
	return scanInsights(rows)
}

// InsightStats aggregates counts for a project ("" means all projects).
func (s *Store) InsightStats(ctx context.Context, projectID string) (*storage.InsightStats, error) {
	where := ""
	var values []interface{}
	if projectID != "" {
		where = " WHERE project_id = $1"
		values = append(values, projectID)
	}

	stats := &storage.InsightStats{
		ByType:     make(map[string]int),
		ByCategory: make(map[string]int),
		ByStatus:   make(map[string]int),
	}
	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(confidence_score) FROM insights`+where, values...).Scan(&stats.Total, &avg); err != nil {
		return nil, fmt.Errorf("postgres: failed to aggregate insights: %w", err)
	}
	stats.AverageConfidence = avg.Float64

	for column, dst := range map[string]map[string]int{
		"insight_type":      stats.ByType,
		"insight_category":  stats.ByCategory,
		"validation_status": stats.ByStatus,
	} {
		rows, err := s.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT %s, COUNT(*) FROM insights%s GROUP BY %s`, column, where, column), values...)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to count insights by %s: %w", column, err)
		}
		for rows.Next() {
			var key string
			var n int
			if err := rows.Scan(&key, &n); err != nil {
				rows.Close()
				return nil, fmt.Errorf("postgres: failed to scan %s count: %w", column, err)
			}
			dst[key] = n
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// SimilarInsights returns insights ordered by cosine distance to embedding.
func (s *Store) SimilarInsights(ctx context.Context, projectID string, embedding []float32, limit int) ([]*types.Insight, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}

	if !s.pgvectorAvailable {
		return s.similarInsightsScan(ctx, projectID, embedding, limit)
	}

	a := &args{}
	vec := a.add(pgvector.NewVector(embedding))
	where := " WHERE embedding_vec IS NOT NULL"
	if projectID != "" {
		where += " AND project_id = " + a.add(projectID)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+insightColumns+` FROM insights`+where+
			` ORDER BY embedding_vec <=> `+vec+` LIMIT `+a.add(limit), a.values...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query similar insights: %w", err)
	}
	return scanInsights(rows)
}

// similarInsightsScan ranks recent insights in process when pgvector is missing.
func (s *Store) similarInsightsScan(ctx context.Context, projectID string, embedding []float32, limit int) ([]*types.Insight, error) {
	a := &args{}
	where := " WHERE embedding IS NOT NULL"
	if projectID != "" {
		where += " AND project_id = " + a.add(projectID)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+insightColumns+` FROM insights`+where+
			` ORDER BY created_at DESC LIMIT `+a.add(similarityScanLimit), a.values...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to scan insights for similarity: %w", err)
	}
	candidates, err := scanInsights(rows)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		scores[c.ID] = cosine(embedding, c.Embedding)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return scores[candidates[i].ID] > scores[candidates[j].ID]
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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
