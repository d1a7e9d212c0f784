package exception

import "errors"

var (
	ErrReconcileNilCache  = errors.New("reconcile: nil cache")
	ErrReconcileDuplicate = errors.New("reconcile: duplicate fill")
	ErrReconcileNoClient  = errors.New("reconcile: no client for venue")
)
