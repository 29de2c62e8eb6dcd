package lending

import "time"

// DefaultFinePerDay is the late fee charged per started day, in rupiah.
const DefaultFinePerDay Money = 5000

const day = 24 * time.Hour

// DaysLate counts started days between expected and now.
// Early and on-time returns are 0 days late, as is a loan with no
// expected return date.
func DaysLate(expected *time.Time, now time.Time) int {
	if expected == nil {
		return 0
	}
	late := now.Sub(*expected)
	if late <= 0 {
		return 0
	}
	days := late / day
	if late%day != 0 {
		days++
	}
	return int(days)
}

// Fine prices a return: DaysLate * ratePerDay.
func Fine(expected *time.Time, now time.Time, ratePerDay Money) Money {
	return Money(DaysLate(expected, now)) * ratePerDay
}
