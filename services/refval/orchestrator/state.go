// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

// State is a step in the per-candidate state machine.
type State string

const (
	// StatePending is the state before any work for the candidate.
	StatePending State = "pending"

	// StateSnapshotting plans the change set and captures every path it
	// will touch. Nothing is written.
	StateSnapshotting State = "snapshotting"

	// StateApplying flushes the planned change set into the working copy.
	StateApplying State = "applying"

	// StateBuilding runs the build command.
	StateBuilding State = "building"

	// StateTesting runs the test command and compares with the baseline.
	StateTesting State = "testing"

	// StateClassifying derives the verdict.
	StateClassifying State = "classifying"

	// StateRestoring puts the captured files back.
	StateRestoring State = "restoring"

	// StateDone means the result is final.
	StateDone State = "done"
)

// String returns the state name.
func (s State) String() string {
	return string(s)
}

// IsTerminal reports whether s is Done.
func (s State) IsTerminal() bool {
	return s == StateDone
}

// AllStates returns every state in pipeline order.
func AllStates() []State {
	return []State{
		StatePending,
		StateSnapshotting,
		StateApplying,
		StateBuilding,
		StateTesting,
		StateClassifying,
		StateRestoring,
		StateDone,
	}
}

// transitions is the allow-list. Every working state may jump to
// Restoring so an aborted candidate is still restored.
var transitions = map[State][]State{
	StatePending:      {StateSnapshotting, StateRestoring},
	StateSnapshotting: {StateApplying, StateRestoring},
	StateApplying:     {StateBuilding, StateClassifying, StateRestoring},
	StateBuilding:     {StateTesting, StateClassifying, StateRestoring},
	StateTesting:      {StateClassifying, StateRestoring},
	StateClassifying:  {StateRestoring},
	StateRestoring:    {StateDone},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
