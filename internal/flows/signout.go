package flows

import "context"

// SignOutStatus reports what an explicit sign-out managed to clear. Sign-out
// never fails as a whole: the in-memory session is always discarded, and any
// persistence error is reported here for logging rather than returned.
type SignOutStatus struct {
	StoreCleared bool
	VaultCleared bool
	StoreErr     error
	VaultErr     error
}

// SignOutDeps captures sign-out flow dependencies.
type SignOutDeps struct {
	ClearSession func(ctx context.Context) error
	// DeleteVault removes the vault entry entirely. Nil when no vault exists.
	DeleteVault func(ctx context.Context) error
	Warn        func(msg string, args ...any)
}

// RunSignOut clears persisted session state. The vault entry is removed only
// when clearVault is set: a sign-out that keeps it leaves biometric quick
// unlock as a way back in.
func RunSignOut(ctx context.Context, clearVault bool, deps SignOutDeps) SignOutStatus {
	status := SignOutStatus{StoreCleared: true, VaultCleared: clearVault}

	if err := deps.ClearSession(ctx); err != nil {
		status.StoreCleared = false
		status.StoreErr = err
		if deps.Warn != nil {
			deps.Warn("sessionkit: session clear failed on sign-out")
		}
	}
	if clearVault && deps.DeleteVault != nil {
		if err := deps.DeleteVault(ctx); err != nil {
			status.VaultCleared = false
			status.VaultErr = err
			if deps.Warn != nil {
				deps.Warn("sessionkit: vault delete failed on sign-out")
			}
		}
	}
	return status
}
