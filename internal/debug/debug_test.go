package debug

import "testing"

func TestLogNoPanic(t *testing.T) {
	// Log must never panic regardless of whether debugging is enabled in
	// the test environment.
	Log("hello %s", "world")
	Log("no newline")
	Log("trailing newline\n")
}
