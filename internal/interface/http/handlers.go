package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alem-hub/unlock-gateway/internal/application/command"
	"github.com/alem-hub/unlock-gateway/internal/domain/notification"
	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/scheduler"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "Unlock Gateway",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":    "/health",
			"websocket": "/ws",
			"metrics":   "/metrics",
			"internal":  "/internal/v1",
		},
	})
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": s.config.Version,
	})
}

// handleReady handles the readiness endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type createScheduleRequest struct {
	UserID                string     `json:"userId"`
	SubjectType           string     `json:"subjectType"`
	SubjectID             string     `json:"subjectId"`
	ModuleID              string     `json:"moduleId,omitempty"`
	PrerequisiteSubjectID string     `json:"prerequisiteSubjectId,omitempty"`
	UnlockAt              *time.Time `json:"unlockAt,omitempty"`

	// WaitingPeriod is a Go duration ("24h") used when unlockAt is absent.
	WaitingPeriod string `json:"waitingPeriod,omitempty"`
}

type scheduleResponse struct {
	ID                    string     `json:"id"`
	UserID                string     `json:"userId"`
	SubjectType           string     `json:"subjectType"`
	SubjectID             string     `json:"subjectId"`
	ModuleID              string     `json:"moduleId"`
	PrerequisiteSubjectID *string    `json:"prerequisiteSubjectId,omitempty"`
	UnlockAt              time.Time  `json:"unlockAt"`
	State                 string     `json:"state"`
	UnlockType            string     `json:"unlockType,omitempty"`
	UnlockedAt            *time.Time `json:"unlockedAt,omitempty"`
	RemainingSeconds      int64      `json:"remainingSeconds"`
}

func toScheduleResponse(sc *unlock.Schedule, now time.Time) scheduleResponse {
	return scheduleResponse{
		ID:                    sc.ID,
		UserID:                sc.UserID,
		SubjectType:           sc.SubjectType.String(),
		SubjectID:             sc.SubjectID,
		ModuleID:              sc.ModuleID,
		PrerequisiteSubjectID: sc.PrerequisiteSubjectID,
		UnlockAt:              sc.UnlockAt,
		State:                 string(sc.State()),
		UnlockType:            string(sc.UnlockType),
		UnlockedAt:            sc.UnlockedAt,
		RemainingSeconds:      int64(sc.RemainingWait(now).Seconds()),
	}
}

// handleCreateSchedule handles POST /internal/v1/schedules
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Scheduler not configured")
		return
	}

	var req createScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	cmd := command.ScheduleUnlockCommand{
		UserID:                req.UserID,
		SubjectType:           unlock.SubjectType(req.SubjectType),
		SubjectID:             req.SubjectID,
		ModuleID:              req.ModuleID,
		PrerequisiteSubjectID: req.PrerequisiteSubjectID,
	}
	if req.UnlockAt != nil {
		cmd.UnlockAt = *req.UnlockAt
	} else if req.WaitingPeriod != "" {
		d, err := time.ParseDuration(req.WaitingPeriod)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "validation_error", "waitingPeriod must be a duration like 24h")
			return
		}
		cmd.WaitingPeriod = d
	}

	sc, err := s.deps.Scheduler.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toScheduleResponse(sc, time.Now()))
}

type expediteRequest struct {
	UnlockType string `json:"unlockType"`
}

type unlockResultResponse struct {
	ScheduleID  string `json:"scheduleId"`
	UserID      string `json:"userId"`
	SubjectType string `json:"subjectType"`
	SubjectID   string `json:"subjectId"`
	UnlockType  string `json:"unlockType"`
	Title       string `json:"title"`
	Outcome     string `json:"outcome"`
	NotifyError string `json:"notifyError,omitempty"`
}

// handleExpedite handles POST /internal/v1/schedules/{id}/expedite
func (s *Server) handleExpedite(w http.ResponseWriter, r *http.Request) {
	if s.deps.Expediter == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Expedite not configured")
		return
	}

	req := expediteRequest{UnlockType: string(unlock.UnlockExpedited)}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}

	unlockType, err := unlock.ParseUnlockType(req.UnlockType)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "validation_error", "unlockType must be expedited or admin_action")
		return
	}

	res, err := s.deps.Expediter.ExpediteUnlock(r.Context(), chi.URLParam(r, "id"), unlockType)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	out := unlockResultResponse{
		ScheduleID:  res.ScheduleID,
		UserID:      res.UserID,
		SubjectType: res.SubjectType.String(),
		SubjectID:   res.SubjectID,
		UnlockType:  string(res.UnlockType),
		Title:       res.Title,
		Outcome:     string(res.Outcome),
	}
	if res.NotifyErr != nil {
		out.NotifyError = res.NotifyErr.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFY HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type notifyRequest struct {
	UserID         string   `json:"userId"`
	ModuleID       string   `json:"moduleId,omitempty"`
	ModuleTitle    string   `json:"moduleTitle,omitempty"`
	SectionID      string   `json:"sectionId,omitempty"`
	SectionTitle   string   `json:"sectionTitle,omitempty"`
	UnlockType     string   `json:"unlockType,omitempty"`
	RemainingHours *float64 `json:"remainingHours,omitempty"`
	TotalWaitHours *float64 `json:"totalWaitHours,omitempty"`
	AchievementID  string   `json:"achievementId,omitempty"`
	Title          string   `json:"title,omitempty"`
	Message        string   `json:"message,omitempty"`
	Category       string   `json:"category,omitempty"`
	XPEarned       *int     `json:"xpEarned,omitempty"`
	XPAmount       int      `json:"xpAmount,omitempty"`
	Reason         string   `json:"reason,omitempty"`

	Data map[string]interface{} `json:"data,omitempty"`
}

func (req notifyRequest) unlockType() unlock.UnlockType {
	if req.UnlockType == "" {
		return unlock.UnlockTimerCompleted
	}
	return unlock.UnlockType(req.UnlockType)
}

func invalid(msg string) error {
	return shared.NewDomainError("http", "notify", shared.ErrInvalidInput, msg)
}

// notify decodes the body, validates userId and runs fn.
func (s *Server) notify(w http.ResponseWriter, r *http.Request, fn func(req notifyRequest) error) {
	if s.deps.Notifier == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Notifier not configured")
		return
	}

	var req notifyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if req.UserID == "" {
		s.writeDomainError(w, r, invalid("userId is required"))
		return
	}

	if err := fn(req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

// handleNotifyModuleUnlock handles POST /internal/v1/notify/module-unlock
func (s *Server) handleNotifyModuleUnlock(w http.ResponseWriter, r *http.Request) {
	s.notify(w, r, func(req notifyRequest) error {
		if req.ModuleID == "" {
			return invalid("moduleId is required")
		}
		return s.deps.Notifier.NotifyModuleUnlock(r.Context(), req.UserID, req.ModuleID, req.ModuleTitle, req.unlockType())
	})
}

// handleNotifySectionUnlock handles POST /internal/v1/notify/section-unlock
func (s *Server) handleNotifySectionUnlock(w http.ResponseWriter, r *http.Request) {
	s.notify(w, r, func(req notifyRequest) error {
		if req.SectionID == "" {
			return invalid("sectionId is required")
		}
		return s.deps.Notifier.NotifySectionUnlock(r.Context(), req.UserID, req.ModuleID, req.SectionID, req.SectionTitle, req.unlockType())
	})
}

// handleNotifyWaitingPeriod handles POST /internal/v1/notify/waiting-period
func (s *Server) handleNotifyWaitingPeriod(w http.ResponseWriter, r *http.Request) {
	s.notify(w, r, func(req notifyRequest) error {
		if req.ModuleID == "" {
			return invalid("moduleId is required")
		}
		if req.RemainingHours == nil || req.TotalWaitHours == nil {
			return invalid("remainingHours and totalWaitHours are required")
		}
		return s.deps.Notifier.NotifyWaitingPeriodUpdate(r.Context(), req.UserID, req.ModuleID, req.ModuleTitle, *req.RemainingHours, *req.TotalWaitHours)
	})
}

// handleNotifyAchievement handles POST /internal/v1/notify/achievement
func (s *Server) handleNotifyAchievement(w http.ResponseWriter, r *http.Request) {
	s.notify(w, r, func(req notifyRequest) error {
		if req.AchievementID == "" {
			return invalid("achievementId is required")
		}
		return s.deps.Notifier.NotifyAchievement(r.Context(), req.UserID, req.AchievementID, req.Title, req.ModuleID, req.XPEarned)
	})
}

// handleNotifyXP handles POST /internal/v1/notify/xp
func (s *Server) handleNotifyXP(w http.ResponseWriter, r *http.Request) {
	s.notify(w, r, func(req notifyRequest) error {
		if req.XPAmount <= 0 {
			return invalid("xpAmount must be positive")
		}
		return s.deps.Notifier.NotifyXPEarned(r.Context(), req.UserID, req.XPAmount, req.Reason, req.ModuleID)
	})
}

// handleNotifyGeneric handles POST /internal/v1/notify/generic
func (s *Server) handleNotifyGeneric(w http.ResponseWriter, r *http.Request) {
	s.notify(w, r, func(req notifyRequest) error {
		return s.deps.Notifier.NotifyGeneric(r.Context(), req.UserID, notification.Draft{
			Type:     notification.TypeSystem,
			Title:    req.Title,
			Message:  req.Message,
			Category: notification.Category(req.Category),
			Data:     req.Data,
		})
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT INGEST
// ══════════════════════════════════════════════════════════════════════════════

type eventRequest struct {
	UserID string `json:"userId"`

	// subject.completed
	CompletedID     string `json:"completedId,omitempty"`
	NextSubjectType string `json:"nextSubjectType,omitempty"`
	NextSubjectID   string `json:"nextSubjectId,omitempty"`
	NextModuleID    string `json:"nextModuleId,omitempty"`
	WaitingPeriod   string `json:"waitingPeriod,omitempty"`

	// achievement.earned
	AchievementID string `json:"achievementId,omitempty"`
	Title         string `json:"title,omitempty"`
	XPEarned      *int   `json:"xpEarned,omitempty"`

	// xp.gained
	Amount int    `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`

	ModuleID string `json:"moduleId,omitempty"`
}

// handlePublishEvent handles POST /internal/v1/events/{type}
func (s *Server) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	if s.deps.Publisher == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Event bus not configured")
		return
	}

	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if req.UserID == "" {
		s.writeDomainError(w, r, invalid("userId is required"))
		return
	}

	var event shared.Event
	switch chi.URLParam(r, "type") {
	case "subject.completed":
		var wait time.Duration
		if req.WaitingPeriod != "" {
			d, err := time.ParseDuration(req.WaitingPeriod)
			if err != nil {
				s.writeDomainError(w, r, invalid("waitingPeriod must be a duration like 24h"))
				return
			}
			wait = d
		}
		e := shared.NewSubjectCompletedEvent(req.UserID, req.CompletedID, req.NextSubjectType, req.NextSubjectID, wait)
		e.NextModuleID = req.NextModuleID
		event = e
	case "achievement.earned":
		event = shared.NewAchievementEarnedEvent(req.UserID, req.AchievementID, req.Title, req.ModuleID, req.XPEarned)
	case "xp.gained":
		event = shared.NewXPGainedEvent(req.UserID, req.Amount, req.Reason, req.ModuleID)
	default:
		writeJSONError(w, http.StatusNotFound, "unknown_event", "Unknown event type")
		return
	}

	if err := s.deps.Publisher.Publish(event); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "published", "eventType": string(event.EventType())})
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS & JOBS
// ══════════════════════════════════════════════════════════════════════════════

// handleStats handles GET /internal/v1/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime": s.Uptime().Round(time.Second).String(),
	}
	if s.deps.Connections != nil {
		stats["connections"] = s.deps.Connections.Stats()
	}
	if s.deps.Events != nil {
		stats["events"] = s.deps.Events.Snapshot()
	}
	if s.deps.Jobs != nil {
		stats["jobs"] = s.deps.Jobs.ListJobs()
	}
	if s.deps.Features != nil {
		stats["features"] = s.deps.Features.List()
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleRunJob handles POST /internal/v1/jobs/{name}/run
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Scheduler not configured")
		return
	}

	result, err := s.deps.Jobs.RunNow(r.Context(), chi.URLParam(r, "name"))
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeJSONError(w, http.StatusNotFound, "job_not_found", err.Error())
	case errors.Is(err, scheduler.ErrJobRunning):
		writeJSONError(w, http.StatusConflict, "job_running", err.Error())
	case result != nil:
		// A failed run still reports its result.
		writeJSON(w, http.StatusOK, result)
	default:
		s.writeDomainError(w, r, err)
	}
}
