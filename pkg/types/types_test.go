package types

import (
	"encoding/json"
	"testing"
)

func TestJobStateString(t *testing.T) {
	cases := []struct {
		state JobState
		want  string
	}{
		{JobPending, "pending"},
		{JobInFlight, "in_flight"},
		{JobWritten, "written"},
		{JobFailed, "failed"},
		{JobState(99), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("state %d: expected %q, got %q", int(tc.state), tc.want, got)
		}
	}
}

func TestReportHasFailures(t *testing.T) {
	report := Report{Submitted: 3, Written: 3}
	if report.HasFailures() {
		t.Fatal("expected a clean report")
	}
	report.Failed = append(report.Failed, "https://vnexpress.net/bai.html")
	if !report.HasFailures() {
		t.Fatal("expected failures to be reported")
	}
}

func TestRecordJSONKeys(t *testing.T) {
	data, err := json.Marshal(Record{
		Title:    "Tiêu đề",
		Input:    "Tiêu đề\nNội dung",
		Output:   "Tóm tắt",
		Category: "Thời sự",
		Source:   "VNExpress",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"title", "input", "output", "category", "source"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("expected key %q in %s", key, data)
		}
	}
}
