package hooks

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/imagestream/core"
	apperrors "github.com/Skryldev/imagestream/errors"
)

func TestInMemoryMetrics(t *testing.T) {
	m := NewInMemoryMetrics()
	m.RecordSession(core.SessionDecode, "png", core.SessionStats{BytesIn: 100, BytesOut: 300, Duration: 5 * time.Millisecond})
	m.RecordSession(core.SessionDecode, "png", core.SessionStats{BytesIn: 50, BytesOut: 150, Duration: 3 * time.Millisecond})
	m.RecordSession(core.SessionEncode, "jpeg", core.SessionStats{BytesIn: 450, BytesOut: 40})
	m.RecordError(core.SessionDecode, "", "unsupported_format")
	m.RecordError(core.SessionEncode, "jpeg", "")

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.Sessions["decode/png"])
	assert.Equal(t, int64(1), snap.Sessions["encode/jpeg"])
	assert.Equal(t, int64(8), snap.DurationMs["decode/png"])
	assert.Equal(t, int64(600), snap.TotalBytesIn)
	assert.Equal(t, int64(490), snap.TotalBytesOut)
	assert.Equal(t, map[string]int64{"unsupported_format": 1, "unknown": 1}, snap.Errors)
	assert.Equal(t, int64(1), snap.PluginErrors["decode/-"])

	// Snapshots are copies.
	snap.Sessions["decode/png"] = 99
	assert.Equal(t, int64(2), m.Snapshot().Sessions["decode/png"])
}

func TestInMemoryMetricsConcurrent(t *testing.T) {
	m := NewInMemoryMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordSession(core.SessionEncode, "png", core.SessionStats{BytesOut: 1})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1600), m.Snapshot().Sessions["encode/png"])
	assert.Equal(t, int64(1600), m.Snapshot().TotalBytesOut)
}

func TestMetricsHook(t *testing.T) {
	m := NewInMemoryMetrics()
	h := NewMetricsHook(m)

	h.Bound(core.SessionDecode, "gif")
	h.Finished(core.SessionDecode, "gif", core.SessionStats{BytesIn: 10}, nil)
	h.Finished(core.SessionDecode, "gif", core.SessionStats{},
		apperrors.Protocol("decode.relay", "pixel data before format declaration"))

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.Sessions["decode/gif"])
	assert.Equal(t, int64(1), snap.Errors["protocol"])
}

func TestLoggingHookWritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	h := NewLoggingHook(logger)

	h.Negotiated("png", core.PixelFormat{Width: 4, Height: 3, ColorSpace: core.ColorSpaceRGBA},
		core.Plan{Shape: core.ConvertOnly, Input: core.ColorSpaceRGBA, Output: core.ColorSpaceRGB})
	h.Finished(core.SessionEncode, "png", core.SessionStats{}, errors.New("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "session.negotiated", rec["msg"])
	assert.Equal(t, "rgb", rec["output"])
	assert.Equal(t, float64(1), rec["stages"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "boom", rec["error"])
}

func TestSlogLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil))).With("file", "a.png")
	logger.Info("transcode.done")
	assert.Contains(t, buf.String(), "file=a.png")
}
