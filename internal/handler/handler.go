// Package handler exposes the switch over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/orchestrator"
	"go.uber.org/zap"
)

// Switch is the orchestrator surface the handlers call.
type Switch interface {
	Submit(ctx context.Context, instruction models.Instruction) (orchestrator.Submission, error)
	Get(ctx context.Context, instructionID string) (models.TransactionView, error)
	List(ctx context.Context, filter models.TransactionFilter) ([]models.TransactionView, error)
	HandleCallback(ctx context.Context, report models.StatusReport) (models.TransactionView, error)
	ProcessReturn(ctx context.Context, req models.ReturnRequest) (models.ReturnResult, error)
	LookupAccount(ctx context.Context, req models.AccountLookupRequest) (models.AccountLookupResult, error)
}

// Cycles schedules settlement cycle closes.
type Cycles interface {
	Schedule(cycleID int64, delay time.Duration) (time.Time, bool)
	Cancel(cycleID int64) bool
	Pending() map[int64]time.Time
}

type Handler struct {
	svc    Switch
	cycles Cycles
	logger *zap.Logger
}

func New(svc Switch, cycles Cycles, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, cycles: cycles, logger: logger}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SubmitTransaction answers 201 for a new instruction and 200 for a replay.
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var instruction models.Instruction
	if !decode(w, r, &instruction) {
		return
	}

	sub, err := h.svc.Submit(r.Context(), instruction)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status := http.StatusCreated
	if sub.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, sub.Transaction)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.TransactionFilter{
		InstructionID: q.Get("id"),
		BankID:        strings.ToUpper(q.Get("bank")),
	}

	if raw := q.Get("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			h.fail(w, r, models.WrapSwitchError(models.ReasonMalformed, err, "status"))
			return
		}
		filter.Status = status
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.fail(w, r, models.NewSwitchError(models.ReasonMalformed, "limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	views, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	var report models.StatusReport
	if !decode(w, r, &report) {
		return
	}

	view, err := h.svc.HandleCallback(r.Context(), report)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	var req models.ReturnRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.svc.ProcessReturn(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// LookupAccount proxies an acmt.023 account check to the target bank.
func (h *Handler) LookupAccount(w http.ResponseWriter, r *http.Request) {
	var req models.AccountLookupRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.svc.LookupAccount(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type scheduledCycle struct {
	CycleID int64     `json:"cycleId"`
	RunAt   time.Time `json:"runAt"`
}

func (h *Handler) ScheduleCycle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cycleID(w, r)
	if !ok {
		return
	}
	delay, err := time.ParseDuration(r.URL.Query().Get("delay"))
	if err != nil || delay < 0 {
		h.fail(w, r, models.NewSwitchError(models.ReasonMalformed, "delay must be a duration such as 30s"))
		return
	}

	runAt, ok := h.cycles.Schedule(id, delay)
	if !ok {
		h.fail(w, r, models.NewSwitchError(models.ReasonTechnical, "scheduler is shutting down"))
		return
	}
	writeJSON(w, http.StatusAccepted, scheduledCycle{CycleID: id, RunAt: runAt})
}

func (h *Handler) CancelCycle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cycleID(w, r)
	if !ok {
		return
	}
	if !h.cycles.Cancel(id) {
		h.fail(w, r, models.WrapSwitchError(models.ReasonMalformed, models.ErrNotFound, "no close pending for cycle %d", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PendingCycles(w http.ResponseWriter, r *http.Request) {
	pending := h.cycles.Pending()
	out := make([]scheduledCycle, 0, len(pending))
	for id, runAt := range pending {
		out = append(out, scheduledCycle{CycleID: id, RunAt: runAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) cycleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.fail(w, r, models.NewSwitchError(models.ReasonMalformed, "cycle id must be numeric"))
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	log := h.logger.With(
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("code", string(code)),
		zap.Error(err))
	if status >= http.StatusInternalServerError {
		log.Error("request failed")
	} else {
		log.Info("request refused")
	}
	writeError(w, err)
}

const maxBody = 1 << 20

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(dst); err != nil {
		writeError(w, models.WrapSwitchError(models.ReasonMalformed, err, "invalid request body"))
		return false
	}
	return true
}
