package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/docingest/constants"
	"github.com/joseph-ayodele/docingest/internal/async"
	"github.com/joseph-ayodele/docingest/internal/classify"
	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/prompts"
	"github.com/joseph-ayodele/docingest/internal/repository"
	"github.com/joseph-ayodele/docingest/internal/testutil"
)

type fakeLister struct {
	ids []uuid.UUID
	err error
}

func (f fakeLister) ListBelowLevel(context.Context, int, uint64) ([]uuid.UUID, error) {
	return f.ids, f.err
}

type fakeQueue struct {
	mu    sync.Mutex
	jobs  []async.Job
	seen  map[uuid.UUID]bool
	block bool
}

func (q *fakeQueue) Enqueue(ctx context.Context, job async.Job) (bool, error) {
	if q.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.seen == nil {
		q.seen = map[uuid.UUID]bool{}
	}
	if q.seen[job.DocumentID] {
		return false, nil
	}
	q.seen[job.DocumentID] = true
	q.jobs = append(q.jobs, job)
	return true, nil
}

func (q *fakeQueue) Shutdown(context.Context) {}

func TestPoller(t *testing.T) {
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	t.Run("Should enqueue each document once", func(t *testing.T) {
		q := &fakeQueue{}
		p := NewPoller(fakeLister{ids: []uuid.UUID{a, b, a}}, q, 3, 10, time.Second, nil)
		n, err := p.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		require.Len(t, q.jobs, 2)
		assert.Equal(t, 3, q.jobs[0].Target)
		assert.NotEmpty(t, q.jobs[0].TraceID)
	})

	t.Run("Should stop tick when queue is full", func(t *testing.T) {
		p := NewPoller(fakeLister{ids: []uuid.UUID{a, b}}, &fakeQueue{block: true}, 4, 10, 20*time.Millisecond, nil)
		n, err := p.Tick(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Should return list errors", func(t *testing.T) {
		boom := errors.New("boom")
		p := NewPoller(fakeLister{err: boom}, &fakeQueue{}, 4, 10, time.Second, nil)
		_, err := p.Tick(ctx)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Should skip tick when unhealthy", func(t *testing.T) {
		q := &fakeQueue{}
		p := NewPoller(fakeLister{ids: []uuid.UUID{a}}, q, 4, 10, time.Hour, nil)
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			p.Run(runCtx, func(context.Context) error { return errors.New("db down") })
			close(done)
		}()
		time.Sleep(20 * time.Millisecond)
		cancel()
		<-done
		assert.Empty(t, q.jobs)
	})
}

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	return &common.Config{
		Database: common.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", MaxConns: 1},
		Server: common.ServerConfig{
			GRPCAddr:     "127.0.0.1:0",
			MetricsAddr:  "127.0.0.1:0",
			PollInterval: 50 * time.Millisecond,
			PollBatch:    10,
		},
		Storage: common.StorageConfig{Root: t.TempDir(), Timeout: time.Second, TenantID: "t1"},
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
}

func newTestApp(t *testing.T, cfg *common.Config) (*App, *testutil.ScriptedLLM) {
	t.Helper()
	ctx := context.Background()
	db, err := repository.OpenSQLite(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(nil) })
	require.NoError(t, db.Migrate(ctx, nil))

	model := testutil.NewScriptedLLM().
		Reply(classify.AgentName, `{"type": "comunicado", "confidence": 0.88}`).
		Reply("notice_extractor", `{"subject": "Corte de agua", "issue_date": "2024-06-03"}`)
	app, err := build(db, cfg, Options{WithPipeline: true, Model: model}, nil)
	require.NoError(t, err)

	defs, err := prompts.Defaults()
	require.NoError(t, err)
	_, err = app.Prompts.Seed(ctx, defs, false)
	require.NoError(t, err)
	return app, model
}

func TestBuildWithoutPipeline(t *testing.T) {
	ctx := context.Background()
	db, err := repository.OpenSQLite(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(nil) })

	app, err := build(db, testConfig(t), Options{}, nil)
	require.NoError(t, err)
	assert.Nil(t, app.Orchestrator)
	assert.NotNil(t, app.Registrar)

	_, err = NewDaemon(app, nil)
	assert.Error(t, err)
}

func TestDaemonProcessesRegisteredDocuments(t *testing.T) {
	cfg := testConfig(t)
	app, model := newTestApp(t, cfg)

	src := filepath.Join(cfg.Storage.Root, "avisos", "agua.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("COMUNICADO A LOS VECINOS\n\nEl lunes 3 de junio habrá un corte de agua entre las 9:00 y las 14:00 por obras en la red general. Rogamos disculpen las molestias."), 0o644))
	reg, err := app.Registrar.RegisterPath(context.Background(), src)
	require.NoError(t, err)

	d, err := NewDaemon(app, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		doc, err := app.Documents.Get(context.Background(), reg.DocumentID)
		return err == nil && doc.FullyProcessed()
	}, 10*time.Second, 50*time.Millisecond)

	doc, err := app.Documents.Get(context.Background(), reg.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, constants.Notice, doc.Type())
	assert.Len(t, model.CallsFor(classify.AgentName), 1)

	conn, err := grpc.NewClient(d.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	hc := healthpb.NewHealthClient(conn)
	require.Eventually(t, func() bool {
		resp, err := hc.Check(context.Background(), &healthpb.HealthCheckRequest{})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 50*time.Millisecond)

	resp, err := http.Get("http://" + d.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `docingest_classified_documents_total{type="notice"} 1`)

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
}
