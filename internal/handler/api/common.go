package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Opensyte/opensyte-sub008/internal/middleware"
	"github.com/Opensyte/opensyte-sub008/internal/models"
)

func successResponse(c echo.Context, msg string, obj interface{}) error {
	return c.JSON(http.StatusOK, models.APIResponse{
		Status: true,
		Msg:    msg,
		Obj:    obj,
	})
}

func errorResponse(c echo.Context, code int, msg string) error {
	return c.JSON(code, models.APIResponse{
		Status: false,
		Msg:    msg,
		Obj:    nil,
	})
}

// parseBodyAction extracts the "actions" field from the request body. All
// API requests route on this field.
func parseBodyAction(c echo.Context) (string, map[string]interface{}, error) {
	body := make(map[string]interface{})
	if err := c.Bind(&body); err != nil {
		return "", nil, err
	}
	action, _ := body["actions"].(string)
	c.Set("api_actions", action) // for logging middleware
	return action, body, nil
}

func getStringField(body map[string]interface{}, key string) string {
	if v, ok := body[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getIntField(body map[string]interface{}, key string, defaultVal int) int {
	if v, ok := body[key]; ok {
		switch t := v.(type) {
		case float64:
			return int(t)
		case int:
			return t
		case string:
			if i, err := strconv.Atoi(t); err == nil {
				return i
			}
		}
	}
	return defaultVal
}

// getBoolField returns the field as *bool so absent and false stay distinct.
func getBoolField(body map[string]interface{}, key string) *bool {
	if v, ok := body[key]; ok {
		if b, ok := v.(bool); ok {
			return &b
		}
	}
	return nil
}

func getMapField(body map[string]interface{}, key string) map[string]interface{} {
	if v, ok := body[key]; ok {
		if m, ok := v.(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}

// getStringPtrField returns the field as *string so partial updates can tell
// "not sent" from "sent empty".
func getStringPtrField(body map[string]interface{}, key string) *string {
	if v, ok := body[key]; ok {
		if s, ok := v.(string); ok {
			return &s
		}
	}
	return nil
}

type caller struct {
	UserID         string
	OrganizationID string
}

// callerIdentity reads the authenticated identity placed on the context by
// the auth middleware.
func callerIdentity(c echo.Context) (caller, bool) {
	userID, _ := c.Get(middleware.ContextUserID).(string)
	orgID, _ := c.Get(middleware.ContextOrgID).(string)
	if userID == "" || orgID == "" {
		return caller{}, false
	}
	return caller{UserID: userID, OrganizationID: orgID}, true
}
