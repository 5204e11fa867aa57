package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engine-position-go/pkg/crank"
	"engine-position-go/pkg/metrics"
)

type fakeDecoder struct {
	status  crank.Status
	stats   crank.Stats
	flags   crank.ErrorFlags
	periods []uint32
}

func (f *fakeDecoder) Status() crank.Status { return f.status }
func (f *fakeDecoder) Stats() crank.Stats   { return f.stats }
func (f *fakeDecoder) ReadErrorFlags() crank.ErrorFlags {
	flags := f.flags
	f.flags = 0
	return flags
}
func (f *fakeDecoder) PeriodLog() []uint32 { return f.periods }

func newTestServer(t *testing.T) (*Server, *fakeDecoder, *httptest.Server) {
	t.Helper()
	dec := &fakeDecoder{
		status: crank.Status{
			State:             crank.StateCounting,
			EngineState:       crank.EngineFullSync,
			ToothCounterGap:   7,
			ToothCounterCycle: 42,
		},
		stats:   crank.Stats{TeethAccepted: 100},
		flags:   crank.FlagTimeout,
		periods: []uint32{1000, 1010, 990},
	}
	h := metrics.NewHostMetrics()
	h.ObserveDecoder("crank0", dec.status, dec.stats)
	srv := NewServer(dec, h.Registry())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, dec, ts
}

func getJSON(t *testing.T, url string, into interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestStatusEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t)

	var got map[string]interface{}
	getJSON(t, ts.URL+"/status", &got)
	assert.Equal(t, "counting", got["state"])
	assert.Equal(t, "full_sync", got["engine_state"])
	assert.Equal(t, float64(7), got["tooth_counter_gap"])
	assert.Equal(t, float64(42), got["tooth_counter_cycle"])
}

func TestFlagsEndpointReadsAndClears(t *testing.T) {
	_, dec, ts := newTestServer(t)

	var got map[string]interface{}
	getJSON(t, ts.URL+"/flags", &got)
	assert.Contains(t, got["names"], "timeout")
	assert.Zero(t, dec.flags, "flags not cleared by read")

	getJSON(t, ts.URL+"/flags", &got)
	assert.Equal(t, "none", got["names"])
}

func TestPeriodsEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t)

	var got struct {
		Periods []uint32 `json:"periods"`
	}
	getJSON(t, ts.URL+"/periods", &got)
	assert.Equal(t, []uint32{1000, 1010, 990}, got.Periods)
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := make([]byte, 64*1024)
	n, _ := resp.Body.Read(buf)
	body := string(buf[:n])
	assert.Contains(t, body, "enginepos_teeth_accepted_total")
	assert.Contains(t, body, `channel="crank0"`)
}

func TestWebSocketPush(t *testing.T) {
	srv, _, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server a moment to register the client.
	deadline := time.Now().Add(2 * time.Second)
	var ev Event
	for {
		srv.Publish("stall", crank.EngineSeek)
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		if err := conn.ReadJSON(&ev); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no websocket event received")
		}
	}
	assert.Equal(t, "stall", ev.Kind)
	assert.Equal(t, "seek", ev.EngineState)
}
