package protocol

import "strings"

// ErrorKind is the closed taxonomy user-visible errors are mapped to.
type ErrorKind string

const (
	CDPConnectionFailed      ErrorKind = "CDP_CONNECTION_FAILED"
	CDPDisconnected          ErrorKind = "CDP_DISCONNECTED"
	CDPError                 ErrorKind = "CDP_ERROR"
	NavigationFailed         ErrorKind = "NAVIGATION_FAILED"
	ElementNotFound          ErrorKind = "ELEMENT_NOT_FOUND"
	ElementNotVisible        ErrorKind = "ELEMENT_NOT_VISIBLE"
	ElementNotInteractable   ErrorKind = "ELEMENT_NOT_INTERACTABLE"
	EvalError                ErrorKind = "EVAL_ERROR"
	DownloadTimeout          ErrorKind = "DOWNLOAD_TIMEOUT"
	DownloadFailed           ErrorKind = "DOWNLOAD_FAILED"
	MaxTabsReached           ErrorKind = "MAX_TABS_REACHED"
	TabClosed                ErrorKind = "TAB_CLOSED"
	Timeout                  ErrorKind = "TIMEOUT"
	Invalid                  ErrorKind = "INVALID"
)

// tabLifecycleMarkers match browser messages indicating the tab/session
// the caller addressed no longer exists.
var tabLifecycleMarkers = []string{
	"No target with given id",
	"Target closed",
	"Cannot find context",
	"Execution context was destroyed",
	"Session with given id not found",
	"Session not found",
}

var networkMarkers = []string{
	"net::ERR_",
	"Cannot navigate",
}

var jsRuntimeMarkers = []string{
	"TypeError",
	"ReferenceError",
	"SyntaxError",
}

func containsAny(haystack string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(haystack, m) {
			return true
		}
	}
	return false
}

// Classify maps a raw CDP error message (with its optional method
// context) to a closed error kind, per the fixed precedence order:
// tab lifecycle, network, DOM, JS runtime, then a generic CDP error.
func Classify(message string, method string) ErrorKind {
	switch {
	case containsAny(message, tabLifecycleMarkers):
		return TabClosed
	case containsAny(message, networkMarkers):
		return NavigationFailed
	case strings.Contains(message, "Could not find node"), strings.Contains(message, "No node with given id"):
		return ElementNotFound
	case strings.Contains(message, "Node is not visible"):
		return ElementNotVisible
	case strings.Contains(message, "Node is not an element"), strings.Contains(message, "not interactable"):
		return ElementNotInteractable
	case containsAny(message, jsRuntimeMarkers):
		return EvalError
	default:
		return CDPError
	}
}

// Describe renders a closed-taxonomy error as an "ERROR_KIND: human
// description" string, appending method context for the generic
// CDP_ERROR case when a method is known.
func Describe(kind ErrorKind, message string, method string) string {
	if kind == CDPError && method != "" {
		return string(kind) + ": " + message + " (method: " + method + ")"
	}
	return string(kind) + ": " + message
}

// ClassifyAndDescribe is the common case: classify a raw CDP error and
// immediately render it as a user-visible error string.
func ClassifyAndDescribe(message string, method string) string {
	return Describe(Classify(message, method), message, method)
}
