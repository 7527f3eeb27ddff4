package provider

import "github.com/parkrow/sessionkit/biometric"

// Capabilities is the device capability snapshot taken once at startup and
// injected into whatever needs it, instead of every component re-probing
// the platform on its own.
type Capabilities struct {
	NativeCredentialSupported bool
	BiometricSupported        bool
	BiometricEnrolled         bool
}

// DetectCapabilities probes the biometric gate and the native signer once.
// Either may be nil, which reports the capability as absent.
func DetectCapabilities(gate biometric.Gate, signer NativeSigner) Capabilities {
	caps := Capabilities{
		NativeCredentialSupported: signer != nil,
	}
	if gate != nil {
		caps.BiometricSupported = gate.Supported()
		caps.BiometricEnrolled = caps.BiometricSupported && gate.Enrolled()
	}
	return caps
}
