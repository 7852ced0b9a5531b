package catalogue

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Brownie44l1/plant-disease-api/internal/errors"
)

func TestParsePreservesOrder(t *testing.T) {
	for _, n := range []int{0, 1, 2, 7, 38} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			parts := make([]string, n)
			for i := 0; i < n; i++ {
				parts[i] = fmt.Sprintf(`{"name":"d%d","cause":"c%d","cure":"r%d"}`, i, i, i)
			}
			doc := "[" + strings.Join(parts, ",") + "]"

			entries, err := Parse([]byte(doc), FormatJSON)
			require.NoError(t, err)
			require.Len(t, entries, n)
			for i, e := range entries {
				assert.Equal(t, Entry{
					Name:  fmt.Sprintf("d%d", i),
					Cause: fmt.Sprintf("c%d", i),
					Cure:  fmt.Sprintf("r%d", i),
				}, e)
			}
		})
	}
}

func TestParseYAML(t *testing.T) {
	doc := `
- name: Apple Scab
  cause: Venturia inaequalis
  cure: Apply captan
- name: Background_without_leaves
  cause: ""
  cure: ""
`
	entries, err := Parse([]byte(doc), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, []string{"Apple Scab", "Background_without_leaves"}, entries.Names())
	assert.Equal(t, "Apply captan", entries[0].Cure)
}

func TestParseIgnoresExtraFields(t *testing.T) {
	entries, err := Parse([]byte(`[{"name":"a","cause":"b","cure":"c","severity":3}]`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, Catalogue{{Name: "a", Cause: "b", Cure: "c"}}, entries)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]struct {
		doc    string
		format Format
		msg    string
	}{
		"malformed json":   {doc: `[{"name":`, format: FormatJSON, msg: "malformed catalogue"},
		"object not array": {doc: `{"name":"a"}`, format: FormatJSON, msg: "malformed catalogue"},
		"null document":    {doc: `null`, format: FormatJSON, msg: "not an array"},
		"missing cure":     {doc: `[{"name":"a","cause":"b"}]`, format: FormatJSON, msg: `entry 0: missing field "cure"`},
		"missing name":     {doc: `[{"name":"a","cause":"b","cure":"c"},{"cause":"b","cure":"c"}]`, format: FormatJSON, msg: `entry 1: missing field "name"`},
		"non-string field": {doc: `[{"name":1,"cause":"b","cure":"c"}]`, format: FormatJSON, msg: "malformed catalogue"},
		"yaml missing":     {doc: "- name: a\n  cure: c\n", format: FormatYAML, msg: `missing field "cause"`},
		"empty yaml":       {doc: "", format: FormatYAML, msg: "not an array"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc), tc.format)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.CodeCatalogueParse))
			assert.Equal(t, apperrors.CategoryInitialization, apperrors.GetCategory(err))
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "label.txt")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"name":"Leaf Rust","cause":"Fungus","cure":"Fungicide"}]`), 0o644))

	entries, err := Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, Catalogue{{Name: "Leaf Rust", Cause: "Fungus", Cure: "Fungicide"}}, entries)

	yamlPath := filepath.Join(dir, "label.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("- {name: Healthy, cause: none, cure: none}\n"), 0o644))
	entries, err = Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "Healthy", entries[0].Name)

	_, err = Load(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeCatalogueParse))
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFor("labels.YAML"))
	assert.Equal(t, FormatYAML, FormatFor("a/b/labels.yml"))
	assert.Equal(t, FormatJSON, FormatFor("label.txt"))
	assert.Equal(t, FormatJSON, FormatFor("label.json"))
}
