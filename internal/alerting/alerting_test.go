package alerting_test

import (
	"testing"
	"time"

	"slonana-validator-core/internal/alerting"
)

type recordingChannel struct {
	name string
	sent []alerting.Entry
}

func (r *recordingChannel) Send(e alerting.Entry) error { r.sent = append(r.sent, e); return nil }
func (r *recordingChannel) Enabled() bool               { return true }
func (r *recordingChannel) Name() string                { return r.name }

func TestFireRateLimitsPerModuleCode(t *testing.T) {
	ch := &recordingChannel{name: "test"}
	d := alerting.NewDispatcher(ch)

	base := time.Now()
	d.Fire(alerting.Entry{Module: "bpf", Code: "fault", Message: "m1", Timestamp: base})
	d.Fire(alerting.Entry{Module: "bpf", Code: "fault", Message: "m2", Timestamp: base.Add(10 * time.Second)})
	if len(ch.sent) != 1 {
		t.Fatalf("expected second alert to be rate-limited, got %d sends", len(ch.sent))
	}

	d.Fire(alerting.Entry{Module: "bpf", Code: "fault", Message: "m3", Timestamp: base.Add(61 * time.Second)})
	if len(ch.sent) != 2 {
		t.Fatalf("expected alert after window to pass, got %d sends", len(ch.sent))
	}
}

func TestFireDistinguishesCodesAndModules(t *testing.T) {
	ch := &recordingChannel{name: "test"}
	d := alerting.NewDispatcher(ch)
	base := time.Now()
	d.Fire(alerting.Entry{Module: "bpf", Code: "fault", Timestamp: base})
	d.Fire(alerting.Entry{Module: "bpf", Code: "other", Timestamp: base})
	d.Fire(alerting.Entry{Module: "banking", Code: "fault", Timestamp: base})
	if len(ch.sent) != 3 {
		t.Fatalf("expected 3 distinct (module,code) sends, got %d", len(ch.sent))
	}
}

func TestDisabledChannelNeverSent(t *testing.T) {
	d := alerting.NewDispatcher(alerting.NewConsoleChannel(false))
	d.Fire(alerting.Entry{Module: "m", Code: "c"})
	// no panic / no observable channel send possible to assert here beyond
	// exercising the disabled path without error.
}
