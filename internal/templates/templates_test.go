package templates

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scrypster/memento-insights/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultCatalog(t *testing.T) {
	tmpls, err := Default()
	require.NoError(t, err)

	byCategory := make(map[string]int)
	names := make(map[string]bool)
	for _, tmpl := range tmpls {
		byCategory[tmpl.Category]++
		names[tmpl.Name] = true
		assert.True(t, tmpl.IsActive, tmpl.Name)
		assert.NotEmpty(t, tmpl.Variables, tmpl.Name)
	}

	assert.True(t, names["generic_patterns"], "the generic fallback template must ship by default")
	assert.GreaterOrEqual(t, byCategory[types.TemplateCategoryPatternDetection], 2)
	assert.GreaterOrEqual(t, byCategory[types.TemplateCategoryClusterAnalysis], 2)
}

func TestParse_Defaults(t *testing.T) {
	data := []byte(`
templates:
  - name: minimal
    prompt_template: "Analyze {content} for {focus}"
  - name: disabled
    category: cluster_analysis
    temperature: 0
    max_tokens: 400
    active: false
    prompt_template: "x"
`)
	tmpls, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, tmpls, 2)

	assert.Equal(t, types.TemplateCategoryGeneral, tmpls[0].Category)
	assert.Equal(t, 0.3, tmpls[0].Temperature)
	assert.Equal(t, 1500, tmpls[0].MaxTokens)
	assert.True(t, tmpls[0].IsActive)
	assert.Equal(t, []string{"content", "focus"}, tmpls[0].Variables)

	assert.Equal(t, 0.0, tmpls[1].Temperature, "explicit zero temperature is kept")
	assert.Equal(t, 400, tmpls[1].MaxTokens)
	assert.False(t, tmpls[1].IsActive)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"empty", "templates: []", "no templates"},
		{"missing name", "templates:\n  - prompt_template: x", "name is required"},
		{"missing prompt", "templates:\n  - name: a", "prompt_template is required"},
		{"duplicate", "templates:\n  - name: a\n    prompt_template: x\n  - name: a\n    prompt_template: y", "duplicate"},
		{"bad yaml", "templates: [", "parse catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	def, err := Default()
	require.NoError(t, err)
	got, err := Load("")
	require.NoError(t, err)
	assert.Len(t, got, len(def))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("templates:\n  - name: a\n    prompt_template: x\n"), 0o600))

	changed := make(chan []*types.AnalysisTemplate, 1)
	w := NewWatcher(path, func(tmpls []*types.AnalysisTemplate) {
		select {
		case changed <- tmpls:
		default:
		}
	}, zap.NewNop())
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("templates:\n  - name: a\n    prompt_template: x\n  - name: b\n    prompt_template: y\n"), 0o600))

	select {
	case tmpls := <-changed:
		assert.Len(t, tmpls, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the catalog change")
	}
}
