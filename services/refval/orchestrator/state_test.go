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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_HappyPath(t *testing.T) {
	states := AllStates()
	for i := 0; i+1 < len(states); i++ {
		assert.True(t, CanTransition(states[i], states[i+1]), "%s -> %s", states[i], states[i+1])
	}
}

func TestCanTransition_EarlyExits(t *testing.T) {
	assert.True(t, CanTransition(StateApplying, StateClassifying))
	assert.True(t, CanTransition(StateBuilding, StateClassifying))
	assert.False(t, CanTransition(StateSnapshotting, StateClassifying))
	assert.False(t, CanTransition(StatePending, StateBuilding))
	assert.False(t, CanTransition(StateTesting, StateBuilding))
}

func TestCanTransition_RestoringReachableFromEveryWorkingState(t *testing.T) {
	for _, s := range AllStates() {
		switch s {
		case StateRestoring, StateDone:
			assert.False(t, CanTransition(s, StateRestoring), "%s", s)
		default:
			assert.True(t, CanTransition(s, StateRestoring), "%s", s)
		}
	}
}

func TestDoneIsTerminal(t *testing.T) {
	for _, s := range AllStates() {
		assert.False(t, CanTransition(StateDone, s))
		assert.Equal(t, s == StateDone, s.IsTerminal())
	}
	assert.True(t, CanTransition(StateRestoring, StateDone))
}

func TestStateTransitionError(t *testing.T) {
	err := &StateTransitionError{From: StateTesting, To: StateBuilding}
	assert.Equal(t, "invalid validation state transition: testing -> building", err.Error())
}
