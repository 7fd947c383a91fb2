package metrics

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServerExportsRegisteredMetrics(t *testing.T) {
	c := NewCounterVec("test_events_total", "events seen by the test", "kind")
	c.WithLabelValues("a").Add(3)

	s := NewServer("localhost:0")
	require.NoError(t, s.Start())
	defer func() {
		require.NoError(t, s.Stop())
	}()
	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `preagg_test_events_total{kind="a"} 3`)
}
