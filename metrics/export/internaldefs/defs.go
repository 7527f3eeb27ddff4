package internaldefs

import (
	sessionkit "github.com/parkrow/sessionkit"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   sessionkit.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   sessionkit.MetricID
	Name string
	Help string
}

// CounterDefs is the shared counter naming table. Both exporters read it so
// metric names stay identical across backends.
var CounterDefs = []CounterDef{
	{ID: sessionkit.MetricSignInSuccess, Name: "sessionkit_sign_in_success_total", Help: "Successful sign-ins."},
	{ID: sessionkit.MetricSignInFailure, Name: "sessionkit_sign_in_failure_total", Help: "Failed sign-in attempts."},
	{ID: sessionkit.MetricSignInCancelled, Name: "sessionkit_sign_in_cancelled_total", Help: "Sign-in flows abandoned by the user."},
	{ID: sessionkit.MetricRegisterSuccess, Name: "sessionkit_register_success_total", Help: "Successful account registrations."},
	{ID: sessionkit.MetricRegisterFailure, Name: "sessionkit_register_failure_total", Help: "Failed account registrations."},
	{ID: sessionkit.MetricRefreshSuccess, Name: "sessionkit_refresh_success_total", Help: "Successful token rotations."},
	{ID: sessionkit.MetricRefreshFailure, Name: "sessionkit_refresh_failure_total", Help: "Failed token rotations."},
	{ID: sessionkit.MetricRefreshJoined, Name: "sessionkit_refresh_joined_total", Help: "Callers that joined an in-flight rotation."},
	{ID: sessionkit.MetricSignOut, Name: "sessionkit_sign_out_total", Help: "Explicit sign-outs."},
	{ID: sessionkit.MetricSessionExpired, Name: "sessionkit_session_expired_total", Help: "Sessions torn down after a rejected rotation or suspension."},
	{ID: sessionkit.MetricSessionRestored, Name: "sessionkit_session_restored_total", Help: "Sessions restored from the plain store on cold start."},
	{ID: sessionkit.MetricUnlockSuccess, Name: "sessionkit_unlock_success_total", Help: "Successful biometric unlocks."},
	{ID: sessionkit.MetricUnlockFailure, Name: "sessionkit_unlock_failure_total", Help: "Failed biometric unlocks."},
	{ID: sessionkit.MetricBiometricEnabled, Name: "sessionkit_biometric_enabled_total", Help: "Biometric quick-unlock enablements."},
	{ID: sessionkit.MetricBiometricDisabled, Name: "sessionkit_biometric_disabled_total", Help: "Biometric quick-unlock disablements."},
	{ID: sessionkit.MetricProfileRefreshed, Name: "sessionkit_profile_refreshed_total", Help: "Profile re-fetches committed to the live session."},
}

// HistogramDefs is the shared histogram naming table.
var HistogramDefs = []HistogramDef{
	{ID: sessionkit.MetricRefreshLatency, Name: "sessionkit_refresh_latency_seconds", Help: "Refresh round-trip latency histogram."},
}

// HistogramBounds are the upper bounds, in seconds, of the core histogram
// buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix holds metric-name-safe renderings of HistogramBounds.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed width.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to the cumulative form both
// exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
