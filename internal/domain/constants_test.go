// SPDX-License-Identifier: Apache-2.0

package domain

import "testing"

func TestRunStatusConstants(t *testing.T) {
	cases := map[RunStatus]string{
		RunPending:   "pending",
		RunRunning:   "running",
		RunPaused:    "paused",
		RunCompleted: "completed",
		RunFailed:    "failed",
		RunCancelled: "cancelled",
	}
	for status, want := range cases {
		if string(status) != want {
			t.Fatalf("unexpected status value: %s want %s", status, want)
		}
		if !status.Valid() {
			t.Fatalf("expected %s to be valid", status)
		}
	}
	if RunStatus("bogus").Valid() {
		t.Fatal("expected unknown status to be invalid")
	}
}

func TestTerminal(t *testing.T) {
	for _, st := range []RunStatus{RunCompleted, RunFailed, RunCancelled} {
		if !st.Terminal() {
			t.Fatalf("expected %s to be terminal", st)
		}
	}
	for _, st := range []RunStatus{RunPending, RunRunning, RunPaused} {
		if st.Terminal() {
			t.Fatalf("expected %s to be non-terminal", st)
		}
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to RunStatus
		want     bool
	}{
		{RunPending, RunRunning, true},
		{RunPending, RunPaused, true},
		{RunRunning, RunPaused, true},
		{RunPaused, RunRunning, true},
		{RunRunning, RunCompleted, true},
		{RunRunning, RunCancelled, true},
		{RunPaused, RunCancelled, true},
		{RunCompleted, RunRunning, false},
		{RunCancelled, RunRunning, false},
		{RunFailed, RunCompleted, false},
		{RunPaused, RunCompleted, false},
		{RunRunning, RunPending, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s): expected %v got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"":        LogInfo,
		"debug":   LogDebug,
		"WARNING": LogWarn,
		"error":   LogError,
		"other":   LogInfo,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Fatalf("ParseLogLevel(%q): expected %s got %s", in, want, got)
		}
	}
}

func TestStatusUpdateMatches(t *testing.T) {
	u := StatusUpdate{From: []RunStatus{RunPending, RunPaused}, To: RunRunning}
	if !u.Matches(RunPaused) {
		t.Fatal("expected paused to match")
	}
	if u.Matches(RunCancelled) {
		t.Fatal("expected cancelled not to match")
	}
}
