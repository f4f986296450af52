package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Opensyte/opensyte-sub008/internal/engine"
	"github.com/Opensyte/opensyte-sub008/internal/rbac"
	"github.com/Opensyte/opensyte-sub008/internal/scheduler"
)

// ScheduleHandler handles all schedule API actions.
type ScheduleHandler struct {
	service    *scheduler.Service
	authorizer rbac.Authorizer
	logger     *zap.Logger
}

func NewScheduleHandler(service *scheduler.Service, authorizer rbac.Authorizer, logger *zap.Logger) *ScheduleHandler {
	return &ScheduleHandler{service: service, authorizer: authorizer, logger: logger}
}

// Handle routes schedule API requests based on the "actions" field.
// POST /api/schedules
func (h *ScheduleHandler) Handle(c echo.Context) error {
	action, body, err := parseBodyAction(c)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid request body")
	}

	switch action {
	case "register_schedule":
		return h.registerSchedule(c, body)
	case "schedule":
		return h.getSchedule(c, body)
	case "schedules":
		return h.listSchedules(c, body)
	case "update_schedule":
		return h.updateSchedule(c, body)
	case "delete_schedule":
		return h.deleteSchedule(c, body)
	case "trigger_schedule":
		return h.triggerSchedule(c, body)
	case "schedule_history":
		return h.scheduleHistory(c, body)
	case "validate_cron":
		return h.validateCron(c, body)
	default:
		return errorResponse(c, http.StatusBadRequest, "Unknown action: "+action)
	}
}

// allowed resolves the caller and checks one permission. A nil caller or a
// failed RBAC lookup both deny.
func (h *ScheduleHandler) allowed(c echo.Context, permission string) (caller, bool) {
	id, ok := callerIdentity(c)
	if !ok {
		return caller{}, false
	}
	granted, err := h.authorizer.Authorize(c.Request().Context(), id.UserID, id.OrganizationID, permission)
	if err != nil {
		h.logger.Warn("Authorization check failed, denying",
			zap.String("user_id", id.UserID),
			zap.String("permission", permission),
			zap.Error(err))
		return caller{}, false
	}
	return id, granted
}

func (h *ScheduleHandler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, scheduler.ErrScheduleNotFound):
		return errorResponse(c, http.StatusNotFound, "Schedule not found")
	case errors.Is(err, scheduler.ErrWorkflowNotFound):
		return errorResponse(c, http.StatusNotFound, "Workflow not found")
	case errors.Is(err, scheduler.ErrInvalidCronExpression):
		return errorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduler.ErrInvalidTimezone):
		return errorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrDispatchFailed):
		return errorResponse(c, http.StatusBadGateway, "Workflow dispatch failed")
	default:
		h.logger.Error("Schedule API request failed", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Internal error")
	}
}

// registerSchedule - action: "register_schedule"
func (h *ScheduleHandler) registerSchedule(c echo.Context, body map[string]interface{}) error {
	id, ok := h.allowed(c, rbac.PermissionSchedulesManage)
	if !ok {
		return errorResponse(c, http.StatusForbidden, "Permission denied")
	}

	workflowID := getStringField(body, "workflow_id")
	expr := getStringField(body, "cron_expression")
	if workflowID == "" || expr == "" {
		return errorResponse(c, http.StatusBadRequest, "workflow_id and cron_expression are required")
	}

	sched, err := h.service.Register(scheduler.RegisterInput{
		WorkflowID:     workflowID,
		OrganizationID: id.OrganizationID,
		CronExpression: expr,
		Timezone:       getStringField(body, "timezone"),
		Enabled:        getBoolField(body, "enabled"),
		Payload:        getMapField(body, "payload"),
	})
	if err != nil {
		return h.mapError(c, err)
	}
	return successResponse(c, "Schedule registered", sched)
}

// getSchedule - action: "schedule"
func (h *ScheduleHandler) getSchedule(c echo.Context, body map[string]interface{}) error {
	id, ok := h.allowed(c, rbac.PermissionSchedulesRead)
	if !ok {
		return errorResponse(c, http.StatusForbidden, "Permission denied")
	}

	scheduleID := getStringField(body, "schedule_id")
	if scheduleID == "" {
		return errorResponse(c, http.StatusBadRequest, "schedule_id is required")
	}

	sched, err := h.service.Get(scheduleID, id.OrganizationID)
	if err != nil {
		return h.mapError(c, err)
	}
	return successResponse(c, "Successful", sched)
}

// listSchedules - action: "schedules"
func (h *ScheduleHandler) listSchedules(c echo.Context, body map[string]interface{}) error {
	id, ok := h.allowed(c, rbac.PermissionSchedulesRead)
	if !ok {
		return errorResponse(c, http.StatusForbidden, "Permission denied")
	}

	schedules, err := h.service.List(id.OrganizationID, getStringField(body, "workflow_id"))
	if err != nil {
		return h.mapError(c, err)
	}
	return successResponse(c, "Successful", map[string]interface{}{
		"schedules": schedules,
		"total":     len(schedules),
	})
}

// updateSchedule - action: "update_schedule"
func (h *ScheduleHandler) updateSchedule(c echo.Context, body map[string]interface{}) error {
	id, ok := h.allowed(c, rbac.PermissionSchedulesManage)
	if !ok {
		return errorResponse(c, http.StatusForbidden, "Permission denied")
	}

	scheduleID := getStringField(body, "schedule_id")
	if scheduleID == "" {
		return errorResponse(c, http.StatusBadRequest, "schedule_id is required")
	}

	sched, err := h.service.Update(scheduleID, id.OrganizationID, scheduler.UpdateInput{
		CronExpression: getStringPtrField(body, "cron_expression"),
		Timezone:       getStringPtrField(body, "timezone"),
		Enabled:        getBoolField(body, "enabled"),
		Payload:        getMapField(body, "payload"),
	})
	if err != nil {
		return h.mapError(c, err)
	}
	return successResponse(c, "Schedule updated", sched)
}

// deleteSchedule - action: "delete_schedule"
func (h *ScheduleHandler) deleteSchedule(c echo.Context, body map[string]interface{}) error {
	id, ok := h.allowed(c, rbac.PermissionSchedulesManage)
	if !ok {
		return errorResponse(c, http.StatusForbidden, "Permission denied")
	}

	scheduleID := getStringField(body, "schedule_id")
	if scheduleID == "" {
		return errorResponse(c, http.StatusBadRequest, "schedule_id is required")
	}

	if err := h.service.Delete(scheduleID, id.OrganizationID); err != nil {
		return h.mapError(c, err)
	}
	return successResponse(c, "Schedule deleted", nil)
}

// triggerSchedule - action: "trigger_schedule"
func (h *ScheduleHandler) triggerSchedule(c echo.Context, body map[string]interface{}) error {
	id, ok := h.allowed(c, rbac.PermissionSchedulesManage)
	if !ok {
		return errorResponse(c, http.StatusForbidden, "Permission denied")
	}

	scheduleID := getStringField(body, "schedule_id")
	if scheduleID == "" {
		return errorResponse(c, http.StatusBadRequest, "schedule_id is required")
	}

	executionID, err := h.service.TriggerManual(c.Request().Context(), scheduleID, id.OrganizationID, id.UserID)
	if err != nil {
		return h.mapError(c, err)
	}
	return successResponse(c, "Workflow triggered", map[string]interface{}{
		"execution_id": executionID,
	})
}

// scheduleHistory - action: "schedule_history"
func (h *ScheduleHandler) scheduleHistory(c echo.Context, body map[string]interface{}) error {
	id, ok := h.allowed(c, rbac.PermissionSchedulesRead)
	if !ok {
		return errorResponse(c, http.StatusForbidden, "Permission denied")
	}

	page, err := h.service.History(
		id.OrganizationID,
		getStringField(body, "schedule_id"),
		getStringField(body, "workflow_id"),
		getIntField(body, "limit", 0),
		getIntField(body, "offset", 0),
	)
	if err != nil {
		return h.mapError(c, err)
	}
	return successResponse(c, "Successful", page)
}

// validateCron - action: "validate_cron"
// Validation is a pure function of the expression: any authenticated caller
// may use it, no schedule permission required.
func (h *ScheduleHandler) validateCron(c echo.Context, body map[string]interface{}) error {
	if _, ok := callerIdentity(c); !ok {
		return errorResponse(c, http.StatusForbidden, "Permission denied")
	}

	expr := getStringField(body, "cron_expression")
	if expr == "" {
		return errorResponse(c, http.StatusBadRequest, "cron_expression is required")
	}

	result := h.service.ValidateExpression(expr, getStringField(body, "timezone"))
	return successResponse(c, "Successful", result)
}
