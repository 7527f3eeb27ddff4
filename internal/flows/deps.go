package flows

// Deps groups flow dependency sets. The root manager builds this once and
// delegates each operation to the matching flow runner.
type Deps struct {
	SignIn    SignInDeps
	Refresh   RefreshDeps
	SignOut   SignOutDeps
	Biometric BiometricDeps
}
