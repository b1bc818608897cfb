package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"steward/internal/ledger/coordinator"
	"steward/internal/ledger/models"
	dErrors "steward/pkg/domain-errors"
	"steward/pkg/platform/httputil"
	"steward/pkg/requestcontext"
)

//go:generate mockgen -source=handlers_records.go -destination=mocks/ledger_mock.go -package=mocks LedgerService

// LedgerService is the coordinator surface exposed over HTTP.
type LedgerService interface {
	StoreGovernanceRecord(ctx context.Context, t models.RecordType, authority string, content []byte) (string, error)
	GetGovernanceRecord(ctx context.Context, id string, verify bool) (*coordinator.ReadResult, error)
	GetRecordsByType(ctx context.Context, t models.RecordType, limit int) ([]*models.Record, error)
	Replay(ctx context.Context, recordID string) (*models.RecordState, error)
	VerifySystemConsistency(ctx context.Context) (coordinator.Report, error)
}

// RecordHandler serves /records and /consistency.
type RecordHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

func NewRecordHandler(ledger LedgerService, logger *slog.Logger) *RecordHandler {
	return &RecordHandler{ledger: ledger, logger: logger}
}

func (h *RecordHandler) Register(r chi.Router) {
	r.Post("/records", h.HandleStore)
	r.Get("/records", h.HandleList)
	r.Get("/records/{id}", h.HandleGet)
	r.Get("/records/{id}/state", h.HandleState)
	r.Get("/consistency", h.HandleConsistency)
}

type storeResponse struct {
	RecordID string `json:"record_id"`
	// Pending names the backend a partial write still has to reach.
	Pending string `json:"pending,omitempty"`
}

func (h *RecordHandler) HandleStore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[storeRecordRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	id, err := h.ledger.StoreGovernanceRecord(ctx, req.RecordType, requestcontext.UserID(ctx), req.Content)
	var partial *coordinator.PartialWriteError
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusCreated, storeResponse{RecordID: id})
	case errors.As(err, &partial):
		h.logger.WarnContext(ctx, "record partially written",
			"request_id", requestID,
			"record_id", partial.RecordID,
			"stage", partial.Stage,
		)
		httputil.WriteJSON(w, http.StatusCreated, storeResponse{RecordID: partial.RecordID, Pending: string(partial.Stage)})
	default:
		h.fail(ctx, w, "store record", "", err)
	}
}

type recordsResponse struct {
	Records []*models.Record `json:"records"`
}

func (h *RecordHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t := models.RecordType(r.URL.Query().Get("type"))
	if !t.Valid() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "type must name a record type"))
		return
	}
	limit, err := parseLimit(r, 50)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	recs, err := h.ledger.GetRecordsByType(ctx, t, limit)
	if err != nil {
		h.fail(ctx, w, "list records", "", err)
		return
	}
	if recs == nil {
		recs = []*models.Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, recordsResponse{Records: recs})
}

// HandleGet verifies against the event log unless verify=false. Drift is
// reported alongside the authoritative record, never instead of it.
func (h *RecordHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	verify := true
	if raw := r.URL.Query().Get("verify"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "verify must be a boolean"))
			return
		}
		verify = v
	}
	res, err := h.ledger.GetGovernanceRecord(ctx, id, verify)
	if err != nil {
		h.fail(ctx, w, "get record", id, err)
		return
	}
	if res.Drifted() {
		w.Header().Set("X-Steward-Drift", string(dErrors.CodeCrossStoreDrift))
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *RecordHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	st, err := h.ledger.Replay(ctx, id)
	if err != nil {
		h.fail(ctx, w, "replay record", id, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

// HandleConsistency answers 503 when the report fails so probes can alert on
// the status alone.
func (h *RecordHandler) HandleConsistency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rep, err := h.ledger.VerifySystemConsistency(ctx)
	if err != nil {
		h.fail(ctx, w, "verify consistency", "", err)
		return
	}
	status := http.StatusOK
	if !rep.OK {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, rep)
}

func (h *RecordHandler) fail(ctx context.Context, w http.ResponseWriter, op, id string, err error) {
	level := slog.LevelWarn
	if dErrors.HasCode(err, dErrors.CodeIntegrityViolation) || dErrors.HasCode(err, dErrors.CodeBackendUnavailable) {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, op+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"record_id", id,
		"error", dErrors.CodeOf(err),
	)
	httputil.WriteError(w, err)
}
