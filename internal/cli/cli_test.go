package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/docingest/constants"
	"github.com/joseph-ayodele/docingest/internal/classify"
	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/export"
	"github.com/joseph-ayodele/docingest/internal/server"
	"github.com/joseph-ayodele/docingest/internal/testutil"
)

type harness struct {
	cfg   *common.Config
	model *testutil.ScriptedLLM
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "store"), 0o755))
	cfg := &common.Config{
		Database: common.DatabaseConfig{Driver: "sqlite", DSN: "file:" + filepath.Join(dir, "docs.db"), MaxConns: 1},
		Storage:  common.StorageConfig{Root: filepath.Join(dir, "store"), Timeout: time.Second, TenantID: "t1"},
		Pipeline: common.PipelineConfig{
			Concurrency:        2,
			TargetLevel:        constants.MaxLevel,
			QualityThreshold:   70,
			ClassificationMin:  0.5,
			ClassifierMaxRunes: 12000,
			ChunkSize:          200,
			ChunkStrategy:      "fixed-size",
			CharsPerPage:       2000,
			RetryAttempts:      1,
			ProcessTimeout:     10 * time.Second,
			StageLease:         time.Minute,
		},
	}
	model := testutil.NewScriptedLLM().
		Reply(classify.AgentName, `{"type": "comunicado", "confidence": 0.9}`).
		Reply("notice_extractor", `{"subject": "Corte de agua", "issue_date": "2024-06-03"}`)
	return &harness{cfg: cfg, model: model}
}

// run executes one command against a fresh Runtime sharing the harness database.
func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfg := *h.cfg
	rt := &Runtime{
		LoadConfig: func() *common.Config { return &cfg },
		Options:    server.Options{Model: h.model},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	root := RootCmd(rt)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeNotice(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "aviso.txt")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(p, []byte("COMUNICADO A LOS VECINOS\n\nEl lunes 3 de junio habrá un corte de agua entre las 9:00 y las 14:00 por obras en la red general. Rogamos disculpen las molestias."), 0o644))
	return p
}

func TestCommands(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrations applied")

	t.Run("Should seed prompts only when changed", func(t *testing.T) {
		out, err := h.run(t, "seed-prompts")
		require.NoError(t, err)
		assert.NotContains(t, out, "published: 0")

		out, err = h.run(t, "seed-prompts")
		require.NoError(t, err)
		assert.Contains(t, out, "published: 0")
	})

	var id string
	t.Run("Should register and process", func(t *testing.T) {
		src := writeNotice(t, filepath.Join(t.TempDir(), "inbox"))
		out, err := h.run(t, "register", "--process", src)
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.GreaterOrEqual(t, len(lines), 4)
		fields := strings.Fields(lines[1])
		require.NotEmpty(t, fields)
		id = fields[0]
		assert.Contains(t, out, "extraction,classification,metadata,chunking")
	})
	require.NotEmpty(t, id)

	t.Run("Should report already registered object", func(t *testing.T) {
		src := writeNotice(t, filepath.Join(t.TempDir(), "again"))
		out, err := h.run(t, "register", src)
		require.NoError(t, err)
		assert.Contains(t, out, id)
		assert.Contains(t, out, "true")
	})

	t.Run("Should print status as JSON", func(t *testing.T) {
		out, err := h.run(t, "status", "--format", "json", id)
		require.NoError(t, err)
		var views []documentStatus
		require.NoError(t, json.Unmarshal([]byte(out), &views))
		require.Len(t, views, 1)
		assert.Equal(t, constants.MaxLevel, views[0].Level)
		assert.Equal(t, string(constants.Notice), views[0].Type)
		assert.Equal(t, "completed", views[0].Stages["chunking"])
		assert.Positive(t, views[0].Chunks)
	})

	t.Run("Should reset from metadata", func(t *testing.T) {
		_, err := h.run(t, "reset", id, "--from", "metadata")
		require.NoError(t, err)

		out, err := h.run(t, "status", "--format", "yaml", id)
		require.NoError(t, err)
		var views []documentStatus
		require.NoError(t, yaml.Unmarshal([]byte(out), &views))
		require.Len(t, views, 1)
		assert.Equal(t, 2, views[0].Level)
		assert.Equal(t, "completed", views[0].Stages["classification"])
		assert.Equal(t, "pending", views[0].Stages["metadata"])
	})

	t.Run("Should process all pending documents", func(t *testing.T) {
		classifierCalls := len(h.model.CallsFor(classify.AgentName))
		out, err := h.run(t, "process", "--all")
		require.NoError(t, err)
		assert.Contains(t, out, id)
		assert.Contains(t, out, "metadata,chunking")
		assert.Len(t, h.model.CallsFor(classify.AgentName), classifierCalls, "classification is not repeated")
	})

	t.Run("Should export workbook", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out", "docs.xlsx")
		_, err := h.run(t, "export", "--out", path, "--chunks")
		require.NoError(t, err)

		f, err := excelize.OpenFile(path)
		require.NoError(t, err)
		defer f.Close()
		rows, err := f.GetRows(export.SheetDocuments)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, id, rows[1][0])
		chunks, err := f.GetRows(export.SheetChunks)
		require.NoError(t, err)
		assert.Greater(t, len(chunks), 1)
	})

	t.Run("Should reject bad arguments", func(t *testing.T) {
		_, err := h.run(t, "process")
		assert.ErrorIs(t, err, common.ErrInvalidInput)

		_, err = h.run(t, "process", "--all", id)
		assert.ErrorIs(t, err, common.ErrInvalidInput)

		_, err = h.run(t, "status", "--format", "xml", id)
		assert.ErrorIs(t, err, common.ErrInvalidInput)

		_, err = h.run(t, "reset", id, "--from", "summary")
		assert.ErrorIs(t, err, common.ErrInvalidInput)

		_, err = h.run(t, "status", "not-a-uuid")
		assert.ErrorIs(t, err, common.ErrInvalidInput)
	})
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(common.NewAppError(common.CodeConfig, "invalid configuration", nil)))
	assert.Equal(t, 1, exitCode(common.ErrNotFound))
}

func TestStageList(t *testing.T) {
	assert.Equal(t, "-", stageList(nil))
	assert.Equal(t, "extraction,chunking", stageList([]constants.Stage{constants.StageExtraction, constants.StageChunking}))
}
