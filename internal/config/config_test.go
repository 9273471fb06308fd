package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.Equal(t, ProviderOpenAI, cfg.Model.Provider)
	assert.Equal(t, "ARK_API_KEY", cfg.Model.APIKeyEnv)
	assert.Equal(t, 120*time.Second, cfg.Model.Timeout)
	assert.Equal(t, 3, cfg.Analysis.MaxModulesPerPage)
	assert.Equal(t, 200, cfg.Analysis.RepairSummaryChars)
	assert.Equal(t, WorkflowLoop, cfg.Analysis.Workflow)
	assert.Equal(t, 5*time.Minute, cfg.Tools.Timeout)
	assert.Equal(t, []string{"个股股票分析工具", "公募基金分析工具"}, cfg.Tools.Builtin)
	assert.Equal(t, "pdftoppm", cfg.Capture.PDFTool)
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
model:
  provider: gemini
  model: gemini-2.5-flash
  api_key_env: GEMINI_API_KEY
  timeout: 30s
analysis:
  workflow: adk
tools:
  external:
    - name: 行业研究工具
      description: 调用外部研究代理
      cmd: ["research-agent", "--json"]
      params:
        - name: industry
          type: str
          description: 行业名称
`)
	cfg, err := Load(viper.New(), path, true)
	require.NoError(t, err)

	assert.Equal(t, ProviderGemini, cfg.Model.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.Model.Model)
	assert.Equal(t, 30*time.Second, cfg.Model.Timeout)
	assert.Equal(t, WorkflowADK, cfg.Analysis.Workflow)
	assert.Equal(t, 2, cfg.Analysis.PageConcurrency, "untouched keys keep their defaults")
	require.Len(t, cfg.Tools.External, 1)
	assert.Equal(t, []string{"research-agent", "--json"}, cfg.Tools.External[0].Cmd)
	assert.Equal(t, "industry", cfg.Tools.External[0].Params[0].Name)
}

func TestLoad_SchemaErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "provider", body: "model:\n  provider: claude\n  model: x\n", want: "model.provider"},
		{name: "workflow", body: "analysis:\n  workflow: dag\n", want: "analysis.workflow"},
		{name: "concurrency", body: "analysis:\n  page_concurrency: 0\n", want: "page_concurrency"},
		{name: "external cmd", body: "tools:\n  external:\n    - name: x\n      cmd: []\n", want: "cmd"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(viper.New(), writeConfig(t, tc.body), true)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := Load(viper.New(), missing, true)
	require.Error(t, err)

	cfg, err := Load(viper.New(), missing, false)
	require.NoError(t, err)
	assert.Equal(t, Default().Model, cfg.Model)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MDIA_ANALYSIS_PAGE_CONCURRENCY", "6")
	t.Setenv("MDIA_MODEL_TIMEOUT", "45s")

	cfg, err := Load(viper.New(), "", false)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Analysis.PageConcurrency)
	assert.Equal(t, 45*time.Second, cfg.Model.Timeout)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadDotEnv(filepath.Join(dir, ".env")))

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("MDIA_TEST_DOTENV_KEY=from-file\n"), 0o600))
	t.Setenv("MDIA_TEST_DOTENV_KEY", "")
	require.NoError(t, os.Unsetenv("MDIA_TEST_DOTENV_KEY"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("MDIA_TEST_DOTENV_KEY"))
}

func TestRender_RoundTrips(t *testing.T) {
	t.Parallel()

	settings, err := DefaultSettings()
	require.NoError(t, err)
	settings["model"].(map[string]any)["provider"] = ProviderGemini

	data, err := Render(settings)
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, ProviderGemini, back["model"].(map[string]any)["provider"])
	assert.Equal(t, "120s", back["model"].(map[string]any)["timeout"])
}
