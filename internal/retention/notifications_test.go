package retention

import "testing"

func TestChannelRuleNotify(t *testing.T) {
	cases := []struct {
		name   string
		rule   ChannelRule
		status string
		want   bool
	}{
		{"disabled never fires", ChannelRule{Enabled: false, OnSuccess: true, OnFailure: true, OnWarning: true}, "success", false},
		{"success gated by on_success", ChannelRule{Enabled: true, OnSuccess: false}, "success", false},
		{"success fires when on_success set", ChannelRule{Enabled: true, OnSuccess: true}, "success", true},
		{"failure gated by on_failure", ChannelRule{Enabled: true, OnFailure: false}, "failed", false},
		{"failure fires when on_failure set", ChannelRule{Enabled: true, OnFailure: true}, "failed", true},
		{"unknown status treated as warning", ChannelRule{Enabled: true, OnWarning: true}, "partial", true},
		{"unknown status gated by on_warning", ChannelRule{Enabled: true, OnWarning: false}, "partial", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rule.Notify(tc.status); got != tc.want {
				t.Errorf("Notify(%q) = %v, want %v", tc.status, got, tc.want)
			}
		})
	}
}
