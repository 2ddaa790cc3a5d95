package config

import (
	"testing"
	"time"
)

func TestDurationUnmarshalText(t *testing.T) {
	cases := []struct {
		in       string
		want     time.Duration
		wantErr  bool
		explicit bool
	}{
		{in: "", want: 0, explicit: true},
		{in: "1500ms", want: 1500 * time.Millisecond, explicit: true},
		{in: "0", want: 0, explicit: true},
		{in: "later", wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tc.in))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("UnmarshalText(%q) returned error: %v", tc.in, err)
			}
			if d.Duration != tc.want {
				t.Fatalf("duration mismatch: got %s want %s", d.Duration, tc.want)
			}
			if d.IsSet() != tc.explicit {
				t.Fatalf("IsSet mismatch: got %v want %v", d.IsSet(), tc.explicit)
			}
		})
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		PollInterval: Duration{Duration: 3 * time.Second},
		ForgetAfter:  Duration{explicit: true},
		API:          APISpec{Addr: ":1234"},
	}
	cfg.ApplyDefaults()

	if got, want := cfg.PollInterval.Duration, 3*time.Second; got != want {
		t.Fatalf("pollInterval overwritten: got %s want %s", got, want)
	}
	if cfg.ForgetAfter.Duration != 0 {
		t.Fatalf("explicit forgetAfter overwritten: %s", cfg.ForgetAfter.Duration)
	}
	if got, want := cfg.DiscoveryTimeout.Duration, defaultDiscoveryTimeout; got != want {
		t.Fatalf("discoveryTimeout default mismatch: got %s want %s", got, want)
	}
	if cfg.API.Addr != ":1234" {
		t.Fatalf("api addr overwritten: %q", cfg.API.Addr)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}
