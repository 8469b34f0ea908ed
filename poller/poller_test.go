package poller

import "testing"

func TestReasonString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		r    Reason
		want string
	}{
		{0, "none"},
		{ReasonInput, "input"},
		{ReasonInput | ReasonOutput, "input|output"},
		{ReasonError | ReasonTimeout, "error|timeout"},
		{ReasonRemoved, "removed"},
	}
	for _, tt := range tests {
		if got := tt.r.String(); got != tt.want {
			t.Errorf("Reason(%#x).String() = %q, want %q", uint32(tt.r), got, tt.want)
		}
	}
}
