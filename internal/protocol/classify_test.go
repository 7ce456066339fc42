package protocol

import "testing"

func TestClassify_TabLifecycle(t *testing.T) {
	t.Parallel()

	if got := Classify("Session with given id not found", ""); got != TabClosed {
		t.Errorf("expected TAB_CLOSED, got %s", got)
	}
	if got := Classify("No target with given id: abc", ""); got != TabClosed {
		t.Errorf("expected TAB_CLOSED, got %s", got)
	}
}

func TestClassify_Network(t *testing.T) {
	t.Parallel()

	if got := Classify("net::ERR_NAME_NOT_RESOLVED", "Page.navigate"); got != NavigationFailed {
		t.Errorf("expected NAVIGATION_FAILED, got %s", got)
	}
}

func TestClassify_DOM(t *testing.T) {
	t.Parallel()

	cases := map[string]ErrorKind{
		"Could not find node with id 5": ElementNotFound,
		"No node with given id":         ElementNotFound,
		"Node is not visible":           ElementNotVisible,
		"Node is not an element":        ElementNotInteractable,
		"element is not interactable":   ElementNotInteractable,
	}
	for msg, want := range cases {
		if got := Classify(msg, ""); got != want {
			t.Errorf("Classify(%q) = %s, want %s", msg, got, want)
		}
	}
}

func TestClassify_JSRuntime(t *testing.T) {
	t.Parallel()

	for _, msg := range []string{"TypeError: x is not a function", "ReferenceError: foo is not defined", "SyntaxError: Unexpected token"} {
		if got := Classify(msg, ""); got != EvalError {
			t.Errorf("Classify(%q) = %s, want EVAL_ERROR", msg, got)
		}
	}
}

func TestClassify_PrecedenceTabLifecycleBeatsJSRuntime(t *testing.T) {
	t.Parallel()

	// "Session not found" markers take precedence even if the message
	// also happens to mention a JS error name.
	msg := "TypeError inside destroyed context: Session not found"
	if got := Classify(msg, ""); got != TabClosed {
		t.Errorf("expected tab lifecycle to win precedence, got %s", got)
	}
}

func TestClassify_DefaultsToCDPError(t *testing.T) {
	t.Parallel()

	if got := Classify("something unexpected happened", ""); got != CDPError {
		t.Errorf("expected CDP_ERROR, got %s", got)
	}
}

func TestDescribe_AppendsMethodOnlyForGenericError(t *testing.T) {
	t.Parallel()

	got := Describe(CDPError, "boom", "Target.createTarget")
	want := "CDP_ERROR: boom (method: Target.createTarget)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	got = Describe(TabClosed, "Target closed", "Target.createTarget")
	want = "TAB_CLOSED: Target closed"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestClassifyAndDescribe_S6Scenario(t *testing.T) {
	t.Parallel()

	got := ClassifyAndDescribe("Session with given id not found", "Page.navigate")
	if got[:10] != "TAB_CLOSED" {
		t.Errorf("expected TAB_CLOSED prefix, got %q", got)
	}

	got = ClassifyAndDescribe("net::ERR_NAME_NOT_RESOLVED", "Page.navigate")
	if got[:17] != "NAVIGATION_FAILED" {
		t.Errorf("expected NAVIGATION_FAILED prefix, got %q", got)
	}
}
