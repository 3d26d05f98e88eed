package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesMetrics(t *testing.T) {
	RecordCapture("ok", 20*time.Millisecond, 2, 1024)
	RecordRevert("rolled_back")
	RecordEviction(3, 1)
	RecordSweep(1)
	RecordStrategyDecision("smart", "tool_invoked", true)
	RecordWatchBatch()
	RecordRPCCall("CreateCheckpoint", time.Millisecond, false)
	SetWebsocketClients(2)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`anyon_checkpoint_captures_total{result="ok"}`,
		"anyon_checkpoint_capture_duration_seconds_count",
		`anyon_checkpoint_reverts_total{result="rolled_back"}`,
		"anyon_checkpoint_evicted_total",
		"anyon_content_orphans_swept_total",
		`anyon_strategy_decisions_total{event="tool_invoked",fired="true",strategy="smart"}`,
		"anyon_watch_batches_total",
		`anyon_rpc_calls_total{method="CreateCheckpoint",status="error"}`,
		"anyon_websocket_clients_active 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
