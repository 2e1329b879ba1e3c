package device

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/stretchr/testify/require"

	"arbiter/cmd/internal/app"
	"arbiter/cmd/internal/arbitration"
	"arbiter/cmd/internal/reconcile"
)

// lockedBuffer is an io.Writer safe for the renderer and the test to share.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startSessiond runs a real backend with one account, alice:wonderland.
func startSessiond(t *testing.T) *httptest.Server {
	t.Helper()
	t.Setenv("ARBITER_PASETO_V4_SECRET_KEY_HEX", paseto.NewV4AsymmetricSecretKey().ExportHex())
	t.Setenv("ARBITER_DEV_ACCOUNTS", "alice:wonderland")

	a, err := app.New(context.Background(), app.Config{}, discardLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, serverURL, deviceID string) Config {
	t.Helper()
	return Config{
		DataDir:      t.TempDir(),
		DeviceID:     deviceID,
		PollInterval: 100 * time.Millisecond,
		MediaPath:    "/ws",
		Arbitration:  arbitration.Config{RequestTimeout: 2 * time.Second},
		Reconcile:    reconcile.Config{ServerURL: serverURL, ProbeMaxElapsed: time.Second},
	}
}

func openDevice(t *testing.T, cfg Config, out io.Writer) *App {
	t.Helper()
	d, err := Open(cfg, discardLogger(), out)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}
