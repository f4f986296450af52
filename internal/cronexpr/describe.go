package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
)

var descriptorText = map[string]string{
	"@yearly":   "once a year at midnight on January 1st",
	"@annually": "once a year at midnight on January 1st",
	"@monthly":  "at midnight on the 1st of every month",
	"@weekly":   "at midnight every Sunday",
	"@daily":    "every day at midnight",
	"@midnight": "every day at midnight",
	"@hourly":   "at the start of every hour",
}

var weekdayText = [...]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// Describe renders a short human-readable summary of a cron expression.
// Best effort: common shapes get friendly text, everything else falls back
// to quoting the expression. The input is assumed to be valid.
func Describe(expr string) string {
	expr = strings.TrimSpace(expr)
	if text, ok := descriptorText[strings.ToLower(expr)]; ok {
		return text
	}

	parts := strings.Fields(expr)
	if len(parts) == 6 {
		if parts[0] != "0" {
			return fallbackText(expr)
		}
		parts = parts[1:]
	}
	if len(parts) != 5 {
		return fallbackText(expr)
	}

	minute, hour, dom, month, dow := parts[0], parts[1], parts[2], parts[3], parts[4]
	if month != "*" {
		return fallbackText(expr)
	}

	switch {
	case minute == "*" && hour == "*" && dom == "*" && dow == "*":
		return "every minute"
	case strings.HasPrefix(minute, "*/") && hour == "*" && dom == "*" && dow == "*":
		return fmt.Sprintf("every %s minutes", minute[2:])
	case isNumber(minute) && hour == "*" && dom == "*" && dow == "*":
		return fmt.Sprintf("every hour at minute %s", minute)
	case isNumber(minute) && strings.HasPrefix(hour, "*/") && dom == "*" && dow == "*":
		return fmt.Sprintf("every %s hours at minute %s", hour[2:], minute)
	case isNumber(minute) && isNumber(hour) && dom == "*" && dow == "*":
		return fmt.Sprintf("every day at %s", clockText(hour, minute))
	case isNumber(minute) && isNumber(hour) && dom == "*" && isNumber(dow):
		d, _ := strconv.Atoi(dow)
		return fmt.Sprintf("every %s at %s", weekdayText[d], clockText(hour, minute))
	case isNumber(minute) && isNumber(hour) && isNumber(dom) && dow == "*":
		return fmt.Sprintf("at %s on day %s of every month", clockText(hour, minute), dom)
	default:
		return fallbackText(expr)
	}
}

func clockText(hour, minute string) string {
	h, _ := strconv.Atoi(hour)
	m, _ := strconv.Atoi(minute)
	return fmt.Sprintf("%02d:%02d", h, m)
}

func isNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

func fallbackText(expr string) string {
	return fmt.Sprintf("cron schedule %q", expr)
}
