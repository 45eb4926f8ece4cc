package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"cpc_portal/internal/api/middleware"
	"cpc_portal/internal/app/event"
	"cpc_portal/internal/app/service"
	"cpc_portal/internal/common"
	"cpc_portal/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

// liveWaitTimeout bounds the long-poll on the live-status endpoint.
const liveWaitTimeout = 25 * time.Second

type SubmissionHandler struct {
	submissionService *service.SubmissionService
	sampleRunner      *service.SampleRunner
	bus               *event.Bus
}

func NewSubmissionHandler(ss *service.SubmissionService, sr *service.SampleRunner, bus *event.Bus) *SubmissionHandler {
	return &SubmissionHandler{submissionService: ss, sampleRunner: sr, bus: bus}
}

func (h *SubmissionHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator) // All submission routes require auth
	r.Post("/run", h.runSampleTests)
	r.Post("/", h.submitForJudging)
	r.Get("/me", h.mySubmissions)
	r.Get("/{submissionID}", h.getSubmission)
	r.Get("/{submissionID}/live", h.liveStatus)
}

type runRequest struct {
	ContestID  string `json:"contest_id"`
	ProblemIdx int    `json:"problem_idx"`
	SourceCode string `json:"source_code"`
	LanguageID int    `json:"language_id"`
}

func (h *SubmissionHandler) runSampleTests(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}

	result, err := h.sampleRunner.Run(r.Context(), req.ContestID, req.ProblemIdx, req.SourceCode, req.LanguageID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, result)
}

func (h *SubmissionHandler) submitForJudging(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}

	sub, err := h.submissionService.Submit(r.Context(), req.ContestID, req.ProblemIdx, userID, req.SourceCode, req.LanguageID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusAccepted, sub) // 202: judging is async
}

func (h *SubmissionHandler) mySubmissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	subs, err := h.submissionService.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, subs)
}

func (h *SubmissionHandler) getSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := h.submissionService.GetByID(r.Context(), chi.URLParam(r, "submissionID"))
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, sub)
}

// liveStatus long-polls a submission's status. A submission that already left
// PENDING returns immediately; otherwise the request parks on the event bus
// until the poller reconciles it or the wait times out.
func (h *SubmissionHandler) liveStatus(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submissionID")

	updates := make(chan event.SubmissionUpdate, 1)
	unsubscribe := h.bus.OnSubmissionUpdate(submissionID, func(u event.SubmissionUpdate) {
		select {
		case updates <- u:
		default:
		}
	})
	defer unsubscribe()

	// Check current state after subscribing so an update emitted in between
	// is not lost.
	sub, err := h.submissionService.GetByID(r.Context(), submissionID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	if sub.Status != model.StatusPending {
		common.RespondWithJSON(w, http.StatusOK, sub)
		return
	}

	select {
	case u := <-updates:
		common.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"id":     u.SubmissionID,
			"status": u.Status,
			"result": u.Result,
		})
	case <-time.After(liveWaitTimeout):
		common.RespondWithJSON(w, http.StatusOK, sub) // still pending
	case <-r.Context().Done():
	}
}
