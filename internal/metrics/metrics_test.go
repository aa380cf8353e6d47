package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	KeyFetchesTotal.Add(0)
	SegmentsTotal.WithLabelValues(ResultOK).Add(0)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "m3u8dl_") {
			t.Errorf("metric %q missing namespace", mf.GetName())
		}
	}
}

func TestRegisterTwicePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	defer func() {
		if recover() == nil {
			t.Error("second Register did not panic")
		}
	}()
	Register(reg)
}

func TestSegmentsTotalLabels(t *testing.T) {
	before := testutil.ToFloat64(SegmentsTotal.WithLabelValues(ResultFailed))
	SegmentsTotal.WithLabelValues(ResultFailed).Inc()
	if got := testutil.ToFloat64(SegmentsTotal.WithLabelValues(ResultFailed)); got != before+1 {
		t.Errorf("segments_total{result=failed} = %v, want %v", got, before+1)
	}
}
