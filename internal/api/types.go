package api

import (
	stdcontext "context"
	"time"

	"github.com/Paintersrp/minicars/internal/backend"
)

// StatusReport describes the supervised backend for API consumers.
type StatusReport struct {
	Backend     backend.Status `json:"backend"`
	Ready       bool           `json:"ready"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Controller exposes the backend operations required by control servers.
type Controller interface {
	Status(stdcontext.Context) (*StatusReport, error)
	Ensure(stdcontext.Context) (*StatusReport, error)
	Stop(stdcontext.Context) (*StatusReport, error)
}

// NewStatusReport wraps a supervisor snapshot.
func NewStatusReport(st backend.Status) *StatusReport {
	return &StatusReport{
		Backend:     st,
		Ready:       st.State == backend.StateRunning,
		GeneratedAt: time.Now().UTC(),
	}
}
