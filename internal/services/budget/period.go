package budget

import (
	"time"

	"github.com/Egham-7/tokentra/internal/models"
)

// PeriodStart returns the start of the budget period containing now, in
// now's location. Weeks start on Sunday. Unknown periods are monthly.
func PeriodStart(period models.BudgetPeriod, now time.Time) time.Time {
	y, m, d := now.Date()
	loc := now.Location()

	switch period {
	case models.PeriodDaily:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case models.PeriodWeekly:
		return time.Date(y, m, d-int(now.Weekday()), 0, 0, 0, 0, loc)
	case models.PeriodQuarterly:
		q := (int(m) - 1) / 3
		return time.Date(y, time.Month(q*3+1), 1, 0, 0, 0, 0, loc)
	case models.PeriodYearly:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	}
}
