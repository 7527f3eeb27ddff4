// Package biometric defines the device biometric capability port: hardware
// presence, enrollment, and a blocking local authentication prompt.
//
// Platform bindings (Touch ID / Face ID via the keychain, Android
// BiometricPrompt) implement Gate in the embedding application. This
// package ships only the port and a static gate for tests and headless
// builds.
package biometric

import "context"

// PromptResult is the outcome of a local authentication prompt.
type PromptResult int

const (
	// PromptSuccess means the user passed the live biometric check.
	PromptSuccess PromptResult = iota
	// PromptCancelled means the user dismissed the prompt. Cancellation
	// mutates nothing and is always recoverable.
	PromptCancelled
	// PromptFailed means the platform rejected the attempt (lockout, sensor
	// error).
	PromptFailed
)

// Gate is the device biometric capability. Supported reports hardware
// presence; Enrolled reports whether the user has registered a biometric;
// Prompt blocks on a live local authentication check.
type Gate interface {
	Supported() bool
	Enrolled() bool
	Prompt(ctx context.Context, message string) (PromptResult, error)
}

// StaticGate is a Gate with fixed answers. Useful for tests and for builds
// where no platform binding exists.
type StaticGate struct {
	Hardware  bool
	Enrolment bool
	Outcome   PromptResult
	PromptErr error
}

func (g *StaticGate) Supported() bool { return g.Hardware }
func (g *StaticGate) Enrolled() bool  { return g.Enrolment }

func (g *StaticGate) Prompt(_ context.Context, _ string) (PromptResult, error) {
	if g.PromptErr != nil {
		return PromptFailed, g.PromptErr
	}
	return g.Outcome, nil
}

// Unavailable returns a gate reporting no biometric hardware at all.
func Unavailable() *StaticGate {
	return &StaticGate{}
}

var _ Gate = (*StaticGate)(nil)
