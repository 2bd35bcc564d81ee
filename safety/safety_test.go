// Copyright 2024 The sg Authors
// This file is part of the sg library.
//
// The sg library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package safety

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestPolicyTableMatchesRiskRows(t *testing.T) {
	require.Equal(t, Policy{}, PolicyFor(RiskNone))

	low := PolicyFor(RiskLow)
	require.True(t, low.Transaction)
	require.False(t, low.ShadowPrequal)
	require.True(t, low.VerificationRequired)

	high := PolicyFor(RiskHigh)
	require.True(t, high.Transaction)
	require.True(t, high.ShadowPrequal)
	require.Equal(t, DefaultShadowPrequalCount, high.ShadowPrequalCount)
	require.False(t, high.ResilienceRequired)

	critical := PolicyFor(RiskCritical)
	require.True(t, critical.ShadowPrequal)
	require.True(t, critical.ResilienceRequired)
}

// TestRollbackDrainsBothInversesInReverse is scenario 5: a low-risk
// gene performs two mutations then the caller detects a schema-invalid
// output and rolls back; both inverses must run, in reverse order, and
// no residual state must remain.
func TestRollbackDrainsBothInversesInReverse(t *testing.T) {
	cap, mock := NewMockCapability()
	tx := Begin(cap)

	_, err := tx.Invoke("set", Args{"key": "a", "value": 1})
	require.NoError(t, err)
	_, err = tx.Invoke("set", Args{"key": "b", "value": 2})
	require.NoError(t, err)

	require.True(t, mock.Has("a"))
	require.True(t, mock.Has("b"))

	errs := tx.Rollback()
	require.Empty(t, errs)
	require.False(t, mock.Has("a"))
	require.False(t, mock.Has("b"))
}

func TestRollbackRestoresPriorValueRatherThanDeleting(t *testing.T) {
	cap, mock := NewMockCapability()

	seed := Begin(cap)
	_, err := seed.Invoke("set", Args{"key": "a", "value": "original"})
	require.NoError(t, err)
	seed.Commit()

	tx := Begin(cap)
	_, err = tx.Invoke("set", Args{"key": "a", "value": "overwritten"})
	require.NoError(t, err)
	tx.Rollback()

	val, err := cap.Invoke("get", Args{"key": "a"})
	require.NoError(t, err)
	require.Equal(t, "original", val)
	_ = mock
}

func TestCommitDiscardsUndoLog(t *testing.T) {
	cap, mock := NewMockCapability()
	tx := Begin(cap)
	_, err := tx.Invoke("set", Args{"key": "a", "value": 1})
	require.NoError(t, err)
	tx.Commit()

	errs := tx.Rollback()
	require.Empty(t, errs, "committing must clear the undo log")
	require.True(t, mock.Has("a"), "commit must not undo a successful invocation")
}

func TestIndividualInverseFailuresDoNotStopTheDrain(t *testing.T) {
	failing := errors.New("inverse exploded")
	goodRan := false
	table := Table{
		"bad": {
			Execute: func(Args) (interface{}, error) { return nil, nil },
			Inverse: func(Args, interface{}) (func() error, error) {
				return func() error { return failing }, nil
			},
		},
		"good": {
			Execute: func(Args) (interface{}, error) { return nil, nil },
			Inverse: func(Args, interface{}) (func() error, error) {
				return func() error { goodRan = true; return nil }, nil
			},
		},
	}
	cap := NewCapability(table)
	tx := Begin(cap)
	_, err := tx.Invoke("good", nil)
	require.NoError(t, err)
	_, err = tx.Invoke("bad", nil)
	require.NoError(t, err)

	errs := tx.Rollback()
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], failing)
	require.True(t, goodRan, "a failing inverse must not stop the drain")
}

func TestProtectedResourceAbortsAndIsDetectable(t *testing.T) {
	table := Table{
		"protected_op": {
			Execute: func(Args) (interface{}, error) { return nil, ErrProtectedResource },
		},
	}
	cap := NewCapability(table)
	tx := Begin(cap)
	_, err := tx.Invoke("protected_op", nil)
	require.ErrorIs(t, err, ErrProtectedResource)
}

func TestPrequalTrackerRequiresConsecutiveSuccesses(t *testing.T) {
	tr := NewPrequalTracker(3)
	d := common.Hash{1}

	require.False(t, tr.Record(d, true))
	require.False(t, tr.Record(d, true))
	require.False(t, tr.Record(d, false)) // resets streak
	require.False(t, tr.Record(d, true))
	require.False(t, tr.Record(d, true))
	require.True(t, tr.Record(d, true))
}
