package tsquery

import (
	"testing"

	"github.com/chronoshard/tsdb/pkg/series"
)

func TestReducer_Sum(t *testing.T) {
	r, err := NewReducer(Sum)
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Reduce([]float64{1, 2, 3}); got != 6 {
		t.Errorf("Reduce = %v, want 6", got)
	}
}

func TestReducer_Avg(t *testing.T) {
	r, _ := NewReducer(Avg)
	if got := r.Reduce([]float64{2, 4}); got != 3 {
		t.Errorf("Reduce = %v, want 3", got)
	}
}

func TestReducer_RateForbidden(t *testing.T) {
	if _, err := NewReducer(Rate); err == nil {
		t.Fatal("expected Rate to be rejected as a reducer")
	}
}

func TestGroupKey(t *testing.T) {
	labels := map[string]string{"region": "us-west", "host": "a"}
	value, ok := GroupKey(labels, "region")
	if !ok || value != "us-west" {
		t.Fatalf("GroupKey = (%q, %v), want (us-west, true)", value, ok)
	}

	_, ok = GroupKey(labels, "missing")
	if ok {
		t.Fatal("expected ok=false for an absent label")
	}
}

func TestReducedLabels(t *testing.T) {
	labels := ReducedLabels("region", "us-west", Sum, []string{"s1", "s2"})
	if labels["region"] != "us-west" || labels["__reducer__"] != "sum" || labels["__source__"] != "s1,s2" {
		t.Fatalf("ReducedLabels = %v", labels)
	}
}

func TestReduceTimestampAligned(t *testing.T) {
	r, _ := NewReducer(Sum)
	a := []series.Sample{{Timestamp: 1, Value: 1}, {Timestamp: 2, Value: 2}}
	b := []series.Sample{{Timestamp: 1, Value: 10}}

	out := ReduceTimestampAligned(r, [][]series.Sample{a, b})
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].Timestamp != 1 || out[0].Value != 11 {
		t.Errorf("out[0] = %+v, want {1 11}", out[0])
	}
	if out[1].Timestamp != 2 || out[1].Value != 2 {
		t.Errorf("out[1] = %+v, want {2 2}", out[1])
	}
}
