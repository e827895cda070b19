package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/pkg/types"
)

const templateColumns = `id, name, category, description, prompt_template, variables,
	temperature, max_tokens, is_active, tags, created_at, updated_at`

// UpsertTemplate creates the template or replaces the one with the same name.
// updated_at only moves when the stored definition actually changes, so
// re-seeding an unchanged catalog keeps recency ordering stable.
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

	variables, err := marshalJSON(tmpl.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}
	tags, err := marshalJSON(tmpl.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis_templates (`+templateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			updated_at = CASE WHEN
				analysis_templates.category IS NOT excluded.category OR
				analysis_templates.description IS NOT excluded.description OR
				analysis_templates.prompt_template IS NOT excluded.prompt_template OR
				analysis_templates.variables IS NOT excluded.variables OR
				analysis_templates.temperature IS NOT excluded.temperature OR
				analysis_templates.max_tokens IS NOT excluded.max_tokens OR
				analysis_templates.is_active IS NOT excluded.is_active OR
				analysis_templates.tags IS NOT excluded.tags
			THEN excluded.updated_at ELSE analysis_templates.updated_at END,
			category = excluded.category,
			description = excluded.description,
			prompt_template = excluded.prompt_template,
			variables = excluded.variables,
			temperature = excluded.temperature,
			max_tokens = excluded.max_tokens,
			is_active = excluded.is_active,
			tags = excluded.tags
	`,
		tmpl.ID, tmpl.Name, tmpl.Category, nullableString(tmpl.Description), tmpl.PromptTemplate,
		variables, tmpl.Temperature, tmpl.MaxTokens, tmpl.IsActive, tags,
		formatTime(tmpl.CreatedAt), formatTime(tmpl.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert template: %w", err)
	}

	// Reflect the persisted identity when an existing row was updated.
	var createdAt, updatedAt string
	if err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at FROM analysis_templates WHERE name = ?`, tmpl.Name,
	).Scan(&tmpl.ID, &createdAt, &updatedAt); err != nil {
		return fmt.Errorf("failed to read back template: %w", err)
	}
	if tmpl.CreatedAt, err = parseTime(createdAt); err != nil {
		return err
	}
	if tmpl.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return err
	}
	return nil
}

// ListTemplates returns templates in the category ("" means all), most recently updated first.
func (s *Store) ListTemplates(ctx context.Context, category string, activeOnly bool) ([]*types.AnalysisTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM analysis_templates WHERE 1=1`
	var args []interface{}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY updated_at DESC, name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var out []*types.AnalysisTemplate
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		out = append(out, tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate templates: %w", err)
	}
	return out, nil
}

// GetTemplateByName retrieves a template by its unique name.
func (s *Store) GetTemplateByName(ctx context.Context, name string) (*types.AnalysisTemplate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM analysis_templates WHERE name = ?`, name)
	tmpl, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tmpl, nil
}

func scanTemplate(row rowScanner) (*types.AnalysisTemplate, error) {
	var (
		t                    types.AnalysisTemplate
		description          sql.NullString
		variables, tags      sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Category, &description, &t.PromptTemplate, &variables,
		&t.Temperature, &t.MaxTokens, &t.IsActive, &tags, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Description = description.String
	if err := unmarshalJSON(variables, &t.Variables, "variables"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(tags, &t.Tags, "tags"); err != nil {
		return nil, err
	}
	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
