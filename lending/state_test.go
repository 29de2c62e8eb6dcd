package lending

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition_LegalEdges(t *testing.T) {
	cases := []struct {
		from Status
		ev   Event
		want Status
	}{
		{StatusPending, EventApprove, StatusApproved},
		{StatusPending, EventReject, StatusRejected},
		{StatusApproved, EventStartLoan, StatusBorrowed},
		{StatusBorrowed, EventReturn, StatusReturned},
	}
	for _, tc := range cases {
		got, err := Transition(tc.from, tc.ev)
		require.NoError(t, err, "%s --%s-->", tc.from, tc.ev)
		assert.Equal(t, tc.want, got)
	}
}

func TestTransition_EverythingElseRefused(t *testing.T) {
	events := []Event{EventApprove, EventReject, EventStartLoan, EventReturn}
	legal := 0
	for _, from := range Statuses {
		for _, ev := range events {
			next, err := Transition(from, ev)
			if err == nil {
				legal++
				continue
			}
			assert.Equal(t, from, next, "refused transition keeps the status")
			assert.True(t, errors.Is(err, ErrInvalidTransition))

			var te *TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, from, te.From)
			assert.Equal(t, ev, te.Event)
		}
	}
	assert.Equal(t, 4, legal)
}

func TestTransition_ReturnFromPendingRefused(t *testing.T) {
	r := BorrowRequest{ID: "r1", Status: StatusPending}
	_, err := r.Next(EventReturn)

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, RequestID("r1"), te.RequestID)
}

func TestTerminalStatusesAllowNothing(t *testing.T) {
	for _, s := range Statuses {
		if s.IsTerminal() {
			assert.Empty(t, Allowed(s), s)
		} else {
			assert.NotEmpty(t, Allowed(s), s)
		}
	}
	assert.ElementsMatch(t, []Event{EventApprove, EventReject}, Allowed(StatusPending))
}

func TestHoldsStock(t *testing.T) {
	assert.True(t, StatusApproved.HoldsStock())
	assert.True(t, StatusBorrowed.HoldsStock())
	assert.False(t, StatusPending.HoldsStock())
	assert.False(t, StatusRejected.HoldsStock())
	assert.False(t, StatusReturned.HoldsStock())
}
