package metrics

import (
	"testing"

	"github.com/cuemby/enkf/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource []types.MemberStatus

func (f fakeSource) Statuses() []types.MemberStatus { return f }

func TestCollectorCountsStatuses(t *testing.T) {
	c := NewCollector(fakeSource{
		{Iens: 0, Status: types.RunStatusOK},
		{Iens: 1, Status: types.RunStatusOK},
		{Iens: 2, Status: types.RunStatusLoadFailure},
		{Iens: 3, Status: types.RunStatusOK},
	}, 0)

	c.Collect()

	if got := testutil.ToFloat64(EnsembleSize); got != 4 {
		t.Errorf("expected ensemble size 4, got %v", got)
	}
	if got := testutil.ToFloat64(MembersByStatus.WithLabelValues(string(types.RunStatusOK))); got != 3 {
		t.Errorf("expected 3 ok members, got %v", got)
	}
	if got := testutil.ToFloat64(MembersByStatus.WithLabelValues(string(types.RunStatusLoadFailure))); got != 1 {
		t.Errorf("expected 1 load failure, got %v", got)
	}
	if got := testutil.ToFloat64(MembersByStatus.WithLabelValues(string(types.RunStatusFailure))); got != 0 {
		t.Errorf("expected stale run failures to be reset, got %v", got)
	}
}
