package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ObserveTransition("start_preparation", nil, 20*time.Millisecond)
	m.ObserveTransition("start_preparation", errors.New("boom"), time.Millisecond)
	m.LedgerMovement("consume")
	m.Split()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`producao_transitions_total{outcome="success",transition="start_preparation"} 1`,
		`producao_transitions_total{outcome="error",transition="start_preparation"} 1`,
		`producao_ledger_movements_total{direction="consume"} 1`,
		`producao_stock_splits_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTransition("advance", nil, time.Second)
	m.LedgerMovement("reverse")
	m.Split()
	m.TimerFinished()
	m.AlarmSent("timer_finished")
}
