package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrNoHeatmap       = errors.New("no heatmap snapshot available")
	ErrNoParams        = errors.New("execution params not initialized")
	ErrNoSessionData   = errors.New("no session metrics recorded")
	ErrRateUnavailable = errors.New("no live rate source available")
	ErrContextDone     = errors.New("context cancelled")
)
