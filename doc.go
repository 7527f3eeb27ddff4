// Package sessionkit is the embeddable authentication and session core for
// resident-facing mobile and kiosk applications.
//
// The package owns exactly one authoritative session at a time and funnels
// every way of obtaining, rotating, and discarding it through a single
// Manager: password, federated, and native platform sign-in, persisted
// restore on cold start, biometric quick unlock from an encrypted vault,
// and single-flight refresh token rotation.
//
// A Manager is assembled with the Builder:
//
//	m, err := sessionkit.New().
//		WithConfig(cfg).
//		WithStore(boltStore).
//		WithVaultStore(vaultStore).
//		WithBiometricGate(gate).
//		Build()
//
// Subpackages hold the pluggable boundaries: provider (identity adapters),
// exchange (backend client), store (key-value persistence backends), vault
// (encrypted credential storage), biometric (platform gate port), bridge
// (external federated SDK reconciliation), and metrics/export (OTel and
// Prometheus exporters).
package sessionkit
