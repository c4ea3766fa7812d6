package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) Sync() error { return nil }

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func withBuffer(t *testing.T, o Options) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	InitializeWithWriter(o, zapcore.Lock(buf))
	t.Cleanup(CloseAll)
	return buf
}

func TestDisabledIsNoop(t *testing.T) {
	require.NoError(t, Initialize(Options{DebugMode: false}))
	t.Cleanup(CloseAll)

	assert.False(t, IsDebugMode())
	assert.False(t, IsCategoryEnabled(CategoryPipeline))

	// Must not panic without a sink.
	Pipeline("stage %s started", "agent1")
	Get(CategoryTactile).With("unit", 1).Error("boom")
}

func TestAllCategoriesLog(t *testing.T) {
	buf := withBuffer(t, Options{Level: "debug", DebugMode: true})

	categories := []Category{
		CategoryBoot, CategoryPipeline, CategoryTactile, CategoryExtract,
		CategoryUnits, CategoryAggregate, CategoryRunLog,
	}
	for _, c := range categories {
		Get(c).Info("hello from %s", c)
	}

	out := buf.String()
	for _, c := range categories {
		assert.Contains(t, out, "hello from "+string(c))
	}
}

func TestCategoryFilter(t *testing.T) {
	buf := withBuffer(t, Options{
		Level:      "debug",
		DebugMode:  true,
		Categories: map[string]bool{"tactile": false},
	})

	Tactile("hidden")
	Pipeline("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.True(t, IsCategoryEnabled(CategoryUnits), "unlisted categories default to enabled")
}

func TestLevelFilter(t *testing.T) {
	buf := withBuffer(t, Options{Level: "warn", DebugMode: true})

	PipelineDebug("debug line")
	Pipeline("info line")
	PipelineWarn("warn line")

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "warn line")
}

func TestJSONFormat(t *testing.T) {
	buf := withBuffer(t, Options{Level: "info", DebugMode: true, JSONFormat: true})

	Get(CategoryUnits).With("source", "agent2").Info("resolved %d units", 3)

	line := strings.TrimSpace(buf.String())
	assert.True(t, strings.HasPrefix(line, "{"), line)
	assert.Contains(t, line, `"logger":"units"`)
	assert.Contains(t, line, `"source":"agent2"`)
	assert.Contains(t, line, "resolved 3 units")
}

func TestInitializeWritesDatedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(Options{Dir: dir, Level: "info", DebugMode: true}))
	Aggregate("wrote aggregate")
	CloseAll()

	name := time.Now().Format("2006-01-02") + "_hazop.log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hazop logging initialized")
	assert.Contains(t, string(data), "wrote aggregate")
}

func TestInitializeRequiresDir(t *testing.T) {
	err := Initialize(Options{DebugMode: true})
	assert.Error(t, err)
}

func TestTimerThreshold(t *testing.T) {
	buf := withBuffer(t, Options{Level: "debug", DebugMode: true})

	timer := StartTimer(CategoryTactile, "slow op")
	time.Sleep(5 * time.Millisecond)
	elapsed := timer.StopWithThreshold(time.Millisecond)

	assert.GreaterOrEqual(t, elapsed, 5*time.Millisecond)
	assert.Contains(t, buf.String(), "slow op took")
}

func TestConcurrentGet(t *testing.T) {
	buf := withBuffer(t, Options{Level: "info", DebugMode: true})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			Get(CategoryPipeline).Info("worker %d", i)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, strings.Count(buf.String(), "worker "))
}
