package metrics

import (
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRun(t *testing.T) {
	r := New()
	r.ObserveRun(RunStats{
		Evaluated:           200,
		Qualifying:          50,
		Reports:             100,
		NotificationsSent:   3,
		NotificationsFailed: 1,
		SkippedMarkets:      []string{"xmr_btc"},
		Duration:            2 * time.Second,
		FinishedAt:          time.Unix(1700000000, 0),
	})
	r.ObserveFailure()

	text := scrape(t, r)
	assert.Contains(t, text, "offerwatch_offers_evaluated_total 200\n")
	assert.Contains(t, text, "offerwatch_reports_written_total 100\n")
	assert.Contains(t, text, `offerwatch_markets_skipped_total{market="xmr_btc"} 1`)
	assert.Contains(t, text, `offerwatch_runs_total{outcome="ok"} 1`)
	assert.Contains(t, text, `offerwatch_runs_total{outcome="error"} 1`)
	assert.Contains(t, text, "offerwatch_last_run_timestamp_seconds 1.7e+09\n")
}

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	srv := httptest.NewServer(Handler(r.Registry()))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.SetReferencePrice("btc_usd", 65000)
	r.ObserveRun(RunStats{Reports: 100})

	path := filepath.Join(t.TempDir(), "offerwatch.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "offerwatch_reports_written_total 100")
	assert.Contains(t, string(data), `offerwatch_reference_price{pair="btc_usd"} 65000`)
}

func TestHandler(t *testing.T) {
	r := New()
	r.ObserveRun(RunStats{NotificationsSent: 2})
	assert.Contains(t, scrape(t, r), "offerwatch_notifications_sent_total 2\n")
}
