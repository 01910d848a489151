package formatter

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestJSONFormatterFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONFormatter(&buf).Format(sampleReport()))

	var decoded map[string]any
	require.NoError(t, sonic.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "upload.zip", decoded["package"])
	assert.Equal(t, 0.1, decoded["threshold"])

	roots := decoded["roots"].([]any)
	require.Len(t, roots, 2)
	assert.Equal(t, "no talking book data", roots[1].(map[string]any)["error"])

	verrs := decoded["validationErrors"].([]any)
	require.Len(t, verrs, 1)
	assert.Equal(t, "IncorrectSyncDirProperties", verrs[0].(map[string]any)["kind"])

	dis := decoded["disparities"].([]any)
	require.Len(t, dis, 1)
	assert.Equal(t, "B-0001", dis[0].(map[string]any)["key"])

	assert.True(t, strings.HasPrefix(buf.String(), "{\n  \""), "output is indented")
}

func TestYAMLFormatterFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewYAMLFormatter(&buf).Format(sampleReport()))

	var decoded struct {
		Package    string `yaml:"package"`
		Validation []struct {
			Kind string `yaml:"kind"`
		} `yaml:"validationErrors"`
		Disparities []DisparityRow `yaml:"disparities"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "upload.zip", decoded.Package)
	require.Len(t, decoded.Validation, 1)
	assert.Equal(t, "IncorrectSyncDirProperties", decoded.Validation[0].Kind)
	assert.Equal(t, sampleReport().Disparities, decoded.Disparities)
}
