package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/pkg/types"
)

const memoryColumns = `id, project_id, memory_type, content, summary, tags, importance,
	content_vector, tags_vector, created_at`

// PutMemory creates or replaces a memory. Memories are owned upstream; this is
// used by imports and tests to seed the pipeline's input.
func (s *Store) PutMemory(ctx context.Context, memory *types.Memory) error {
	if memory == nil {
		return storage.ErrInvalidInput
	}
	if memory.ID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(memory.Content) == "" {
		return fmt.Errorf("%w: memory content is required", storage.ErrInvalidInput)
	}
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = time.Now()
	}
	if memory.MemoryType == "" {
		memory.MemoryType = types.MemoryTypeGeneral
	}

	tagsJSON, err := marshalJSON(memory.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	contentVec, err := marshalJSON(memory.ContentVector)
	if err != nil {
		return fmt.Errorf("failed to marshal content vector: %w", err)
	}
	tagsVec, err := marshalJSON(memory.TagsVector)
	if err != nil {
		return fmt.Errorf("failed to marshal tags vector: %w", err)
	}

	var importance sql.NullFloat64
	if memory.Importance != nil {
		importance = sql.NullFloat64{Float64: *memory.Importance, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			memory_type = excluded.memory_type,
			content = excluded.content,
			summary = excluded.summary,
			tags = excluded.tags,
			importance = excluded.importance,
			content_vector = excluded.content_vector,
			tags_vector = excluded.tags_vector
	`,
		memory.ID, memory.ProjectID, memory.MemoryType, memory.Content,
		nullableString(memory.Summary), tagsJSON, importance,
		contentVec, tagsVec, formatTime(memory.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}

// GetMemory retrieves a memory by ID.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	memory, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return memory, nil
}

// GetMemories retrieves memories in the order of ids, skipping unknown ones.
func (s *Store) GetMemories(ctx context.Context, ids []string) ([]*types.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get memories: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*types.Memory, len(ids))
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		byID[memory.ID] = memory
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memories: %w", err)
	}

	out := make([]*types.Memory, 0, len(byID))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, m)
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var (
		m                   types.Memory
		summary, tagsJSON   sql.NullString
		contentVec, tagsVec sql.NullString
		importance          sql.NullFloat64
		createdAt           string
	)
	if err := row.Scan(&m.ID, &m.ProjectID, &m.MemoryType, &m.Content, &summary, &tagsJSON,
		&importance, &contentVec, &tagsVec, &createdAt); err != nil {
		return nil, err
	}

	m.Summary = summary.String
	if importance.Valid {
		v := importance.Float64
		m.Importance = &v
	}
	if err := unmarshalJSON(tagsJSON, &m.Tags, "tags"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(contentVec, &m.ContentVector, "content_vector"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(tagsVec, &m.TagsVector, "tags_vector"); err != nil {
		return nil, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = t
	return &m, nil
}
