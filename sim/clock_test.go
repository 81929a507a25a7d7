package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewClockSet_AlignedIntervals_Valid(t *testing.T) {
	// GIVEN dependent intervals that are exact multiples of the control interval
	clocks := []ClockSpec{
		{Name: ClockCamera, IntervalUS: 33000, ShutterUS: 15000},
		{Name: ClockPose, IntervalUS: 11000, ShutterUS: 0},
	}

	// WHEN the clock set is built with an 11ms control tick
	_, err := NewClockSet(11000, clocks)

	// THEN validation succeeds
	require.NoError(t, err)
}

func TestNewClockSet_MisalignedInterval_Fails(t *testing.T) {
	// GIVEN a camera interval that is not a multiple of the control interval
	clocks := []ClockSpec{
		{Name: ClockCamera, IntervalUS: 33001, ShutterUS: 15000},
	}

	// WHEN the clock set is built
	_, err := NewClockSet(11000, clocks)

	// THEN validation fails deterministically, naming the clock
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, ClockCamera, ce.Field)
}

func TestNewClockSet_RejectsBadFields(t *testing.T) {
	cases := []struct {
		name    string
		control int64
		clocks  []ClockSpec
	}{
		{"zero control interval", 0, nil},
		{"negative control interval", -5, nil},
		{"empty clock name", 1000, []ClockSpec{{IntervalUS: 1000}}},
		{"zero clock interval", 1000, []ClockSpec{{Name: "camera", IntervalUS: 0}}},
		{"negative phase", 1000, []ClockSpec{{Name: "camera", IntervalUS: 1000, PhaseOffsetUS: -1}}},
		{"negative shutter", 1000, []ClockSpec{{Name: "camera", IntervalUS: 1000, ShutterUS: -1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewClockSet(tc.control, tc.clocks)
			require.Error(t, err)
		})
	}
}

func TestClockSet_FiresAt(t *testing.T) {
	cs, err := NewClockSet(11000, []ClockSpec{
		{Name: ClockCamera, IntervalUS: 33000, PhaseOffsetUS: 18000, ShutterUS: 15000},
	})
	require.NoError(t, err)

	if !cs.FiresAt(ClockCamera, 18000) {
		t.Error("camera should fire at its phase offset")
	}
	if !cs.FiresAt(ClockCamera, 18000+33000) {
		t.Error("camera should fire one interval after its phase offset")
	}
	if cs.FiresAt(ClockCamera, 18001) {
		t.Error("camera must not fire between interval starts")
	}
	if cs.FiresAt(ClockCamera, 0) {
		t.Error("camera must not fire before its phase offset")
	}
	if cs.FiresAt("lidar", 18000) {
		t.Error("unconfigured clock must never fire")
	}
}

func TestClockSet_ActiveIntervalAt(t *testing.T) {
	cs, err := NewClockSet(11000, []ClockSpec{
		{Name: ClockCamera, IntervalUS: 33000, PhaseOffsetUS: 18000, ShutterUS: 15000},
	})
	require.NoError(t, err)

	// Before the first event starts there is no active interval.
	_, ok := cs.ActiveIntervalAt(ClockCamera, 17999)
	require.False(t, ok)

	// Mid-shutter of the first event.
	iv, ok := cs.ActiveIntervalAt(ClockCamera, 20000)
	require.True(t, ok)
	require.Equal(t, SimInstant(18000), iv.Start)
	require.Equal(t, SimInstant(33000), iv.Completion)

	// After the second event starts, it becomes the active interval.
	iv, ok = cs.ActiveIntervalAt(ClockCamera, 18000+33000)
	require.True(t, ok)
	require.Equal(t, SimInstant(51000), iv.Start)
	require.Equal(t, SimInstant(66000), iv.Completion)
}

func TestClockSet_LatestCompletion(t *testing.T) {
	cs, err := NewClockSet(11000, []ClockSpec{
		{Name: ClockCamera, IntervalUS: 33000, PhaseOffsetUS: 18000, ShutterUS: 15000},
	})
	require.NoError(t, err)

	// No event has completed before phase+shutter.
	_, ok := cs.LatestCompletion(ClockCamera, 32999)
	require.False(t, ok)

	// Exactly at completion.
	c, ok := cs.LatestCompletion(ClockCamera, 33000)
	require.True(t, ok)
	require.Equal(t, SimInstant(33000), c)

	// Between completions, the previous one holds.
	c, ok = cs.LatestCompletion(ClockCamera, 65999)
	require.True(t, ok)
	require.Equal(t, SimInstant(33000), c)
}

// The strict-sync property from the timing design: a 33ms camera with a
// 15ms shutter, phased so each completion lands exactly on a control tick,
// passes; shifting the offset by a single microsecond fails with a fault
// naming the exact mismatch.
func TestClockSet_StrictSync_ExactAlignment(t *testing.T) {
	cs, err := NewClockSet(33000, []ClockSpec{
		{Name: ClockCamera, IntervalUS: 33000, PhaseOffsetUS: 18000, ShutterUS: 15000},
	})
	require.NoError(t, err)

	for _, decision := range []SimInstant{33000, 66000, 99000, 33000 * 1000} {
		require.NoError(t, cs.CheckStrictSync(decision), "decision at %s", decision)
	}
}

func TestClockSet_StrictSync_OffByOne(t *testing.T) {
	// GIVEN the same camera shifted by exactly 1 microsecond
	cs, err := NewClockSet(33000, []ClockSpec{
		{Name: ClockCamera, IntervalUS: 33000, PhaseOffsetUS: 18001, ShutterUS: 15000},
	})
	require.NoError(t, err)

	// WHEN strict sync is checked at a control tick
	err = cs.CheckStrictSync(66000)

	// THEN the fault names the clock and both instants
	var se *SyncError
	require.True(t, errors.As(err, &se))
	require.Equal(t, ClockCamera, se.Clock)
	require.Equal(t, SimInstant(33001), se.Completion)
	require.Equal(t, SimInstant(66000), se.Decision)
}

func TestClockSet_StrictSync_NoCompletedEvent(t *testing.T) {
	cs, err := NewClockSet(33000, []ClockSpec{
		{Name: ClockCamera, IntervalUS: 33000, PhaseOffsetUS: 30000, ShutterUS: 15000},
	})
	require.NoError(t, err)

	// First decision tick precedes the first camera completion entirely.
	var se *SyncError
	require.True(t, errors.As(cs.CheckStrictSync(33000), &se))
	require.Equal(t, ClockCamera, se.Clock)
}

func TestClockSet_DueCompletions(t *testing.T) {
	cs, err := NewClockSet(11000, []ClockSpec{
		{Name: ClockCamera, IntervalUS: 33000, PhaseOffsetUS: 18000, ShutterUS: 15000},
		{Name: ClockPose, IntervalUS: 11000, ShutterUS: 0},
	})
	require.NoError(t, err)

	require.Equal(t, []string{ClockPose}, cs.DueCompletions(11000))
	require.Equal(t, []string{ClockCamera, ClockPose}, cs.DueCompletions(33000))
}
