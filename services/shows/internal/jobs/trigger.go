package jobs

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/tvshows-platform/internal/platform/api"
	"github.com/example/tvshows-platform/internal/platform/httpserver"
)

// SyncTrigger exposes manual reconciliation over HTTP. Runs are bound to
// BaseCtx, not to the triggering request.
type SyncTrigger struct {
	Log     *zap.Logger
	Job     *Reconciler
	BaseCtx context.Context
}

type syncStatus struct {
	State    string     `json:"state"`
	SeedDone bool       `json:"seed_done"`
	LastRun  *RunResult `json:"last_run"`
}

func (t SyncTrigger) Register(r chi.Router) {
	r.Post("/v1/admin/sync/shows", func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		base := t.BaseCtx
		if base == nil {
			base = context.Background()
		}
		switch err := t.Job.Trigger(httpserver.WithRequestID(base, rid)); {
		case errors.Is(err, ErrSeedPending):
			api.Unavailable(w, "SEED_IN_PROGRESS", "Initial seed has not finished", rid, 30)
			return
		case errors.Is(err, ErrAlreadyRunning):
			api.Conflict(w, "SYNC_RUNNING", "Reconciliation is already running", rid, nil)
			return
		case err != nil:
			api.Internal(w, rid)
			return
		}
		if t.Log != nil {
			t.Log.Info("reconcile: triggered over http", zap.String("request_id", rid))
		}
		api.WriteJSON(w, http.StatusAccepted, map[string]any{"status": "started"})
	})
	r.Get("/v1/admin/sync/shows", func(w http.ResponseWriter, _ *http.Request) {
		st := syncStatus{State: t.Job.State().String(), SeedDone: t.Job.Ready.IsOpen()}
		if last, ok := t.Job.LastRun(); ok {
			st.LastRun = &last
		}
		api.WriteJSON(w, http.StatusOK, st)
	})
}
