package lending

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestFine(t *testing.T) {
	cases := []struct {
		name     string
		expected *time.Time
		now      time.Time
		want     Money
	}{
		{"two days late", date(2024, 1, 1), *date(2024, 1, 3), 10000},
		{"returned early", date(2024, 1, 5), *date(2024, 1, 1), 0},
		{"on the dot", date(2024, 1, 5), *date(2024, 1, 5), 0},
		{"one minute late is a full day", date(2024, 1, 5), date(2024, 1, 5).Add(time.Minute), 5000},
		{"just over two days", date(2024, 1, 1), date(2024, 1, 3).Add(time.Second), 15000},
		{"no due date", nil, *date(2024, 1, 3), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Fine(tc.expected, tc.now, DefaultFinePerDay))
		})
	}
}

func TestDaysLate(t *testing.T) {
	assert.Equal(t, 3, DaysLate(date(2024, 1, 1), *date(2024, 1, 4)))
	assert.Equal(t, 0, DaysLate(date(2024, 1, 4), *date(2024, 1, 1)))
	assert.Equal(t, 0, DaysLate(nil, *date(2024, 1, 1)))
}

func TestFine_CustomRate(t *testing.T) {
	assert.Equal(t, Money(3000), Fine(date(2024, 1, 1), *date(2024, 1, 4), 1000))
}
