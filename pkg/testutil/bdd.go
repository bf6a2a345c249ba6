package testutil

import "testing"

// Given, When and Then nest subtests so a workflow test reads as a scenario.
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("When "+desc, fn)
}

// Then fails the enclosing scenario when the step fails, so later steps
// never run against a broken state.
func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	if !t.Run("Then "+desc, fn) {
		t.FailNow()
	}
}
