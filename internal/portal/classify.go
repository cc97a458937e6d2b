package portal

import (
	"net/http"
	"strings"
)

// expiryKeywords mark a response message as a session-expiry signal.
// Localized variants included; matched case-insensitively.
var expiryKeywords = []string{
	"登录", "token", "过期", "失效", "invalid", "expired",
	"未登录", "会话", "session", "认证", "授权", "unauthorized",
	"not logged in",
}

// Expired classifies a response as session-expired: a 302 (the portal
// redirects to the login page instead of returning an error), code=-1,
// or an expiry keyword in the message.
func Expired(statusCode int, code, msg string) bool {
	if statusCode == http.StatusFound {
		return true
	}
	if code == "-1" {
		return true
	}
	lower := strings.ToLower(msg)
	for _, kw := range expiryKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

var (
	alreadyKeywords  = []string{"已选", "重复", "already", "duplicate"}
	conflictKeywords = []string{"冲突", "conflict"}
	fullKeywords     = []string{"容量", "已满", "人数", "full", "capacity"}
)

// ClassifySelect maps a volunteer.do response to a SelectOutcome. The
// mapping is inferred from message text because the portal does not
// publish stable numeric codes; keep every keyword change inside this
// function.
func ClassifySelect(code, msg string) SelectOutcome {
	if code == "1" {
		return SelectAcquired
	}
	lower := strings.ToLower(msg)
	if containsAny(lower, alreadyKeywords) {
		return SelectAcquired
	}
	if containsAny(lower, conflictKeywords) {
		return SelectConflict
	}
	if containsAny(lower, fullKeywords) {
		return SelectFull
	}
	return SelectError
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
