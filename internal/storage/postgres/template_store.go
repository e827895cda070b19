package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/pkg/types"
)

const templateColumns = `id, name, category, description, prompt_template, variables,
	temperature, max_tokens, is_active, tags, created_at, updated_at`

// UpsertTemplate creates the template or replaces the one with the same name.
// updated_at only moves when the stored definition changes.
func (s *Store) UpsertTemplate(ctx context.Context, tmpl *types.AnalysisTemplate) error {
	if tmpl == nil {
		return storage.ErrInvalidInput
	}
	if tmpl.Name == "" {
		return fmt.Errorf("%w: template name is required", storage.ErrInvalidInput)
	}
	if tmpl.PromptTemplate == "" {
		return fmt.Errorf("%w: template %s has no prompt", storage.ErrInvalidInput, tmpl.Name)
	}
	if tmpl.ID == "" {
		tmpl.ID = uuid.New().String()
	}
	if tmpl.Category == "" {
		tmpl.Category = types.TemplateCategoryGeneral
	}
	now := time.Now()
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = now
	}
	if tmpl.UpdatedAt.IsZero() {
		tmpl.UpdatedAt = now
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO analysis_templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (name) DO UPDATE SET
			updated_at = CASE WHEN
				(analysis_templates.category, analysis_templates.description, analysis_templates.prompt_template,
				 analysis_templates.variables, analysis_templates.temperature, analysis_templates.max_tokens,
				 analysis_templates.is_active, analysis_templates.tags)
				IS DISTINCT FROM
				(EXCLUDED.category, EXCLUDED.description, EXCLUDED.prompt_template,
				 EXCLUDED.variables, EXCLUDED.temperature, EXCLUDED.max_tokens,
				 EXCLUDED.is_active, EXCLUDED.tags)
			THEN EXCLUDED.updated_at ELSE analysis_templates.updated_at END,
			category = EXCLUDED.category,
			description = EXCLUDED.description,
			prompt_template = EXCLUDED.prompt_template,
			variables = EXCLUDED.variables,
			temperature = EXCLUDED.temperature,
			max_tokens = EXCLUDED.max_tokens,
			is_active = EXCLUDED.is_active,
			tags = EXCLUDED.tags
		RETURNING id, created_at, updated_at
	`,
		tmpl.ID, tmpl.Name, tmpl.Category, nullableString(tmpl.Description), tmpl.PromptTemplate,
		pq.Array(tmpl.Variables), tmpl.Temperature, tmpl.MaxTokens, tmpl.IsActive, pq.Array(tmpl.Tags),
		tmpl.CreatedAt, tmpl.UpdatedAt,
	).Scan(&tmpl.ID, &tmpl.CreatedAt, &tmpl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert template: %w", err)
	}
	return nil
}

// ListTemplates returns templates in the category ("" means all), most recently updated first.
func (s *Store) ListTemplates(ctx context.Context, category string, activeOnly bool) ([]*types.AnalysisTemplate, error) {
	a := &args{}
	query := `SELECT ` + templateColumns + ` FROM analysis_templates WHERE TRUE`
	if category != "" {
		query += ` AND category = ` + a.add(category)
	}
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY updated_at DESC, name ASC`

	rows, err := s.db.QueryContext(ctx, query, a.values...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list templates: %w", err)
	}
	defer rows.Close()

	var out []*types.AnalysisTemplate
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan template: %w", err)
		}
		out = append(out, tmpl)
	}
	return out, rows.Err()
}

// GetTemplateByName retrieves a template by its unique name.
func (s *Store) GetTemplateByName(ctx context.Context, name string) (*types.AnalysisTemplate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM analysis_templates WHERE name = $1`, name)
	tmpl, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get template: %w", err)
	}
	return tmpl, nil
}

func scanTemplate(row rowScanner) (*types.AnalysisTemplate, error) {
	var t types.AnalysisTemplate
	var description sql.NullString
	if err := row.Scan(&t.ID, &t.Name, &t.Category, &description, &t.PromptTemplate,
		pq.Array(&t.Variables), &t.Temperature, &t.MaxTokens, &t.IsActive, pq.Array(&t.Tags),
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Description = description.String
	return &t, nil
}
