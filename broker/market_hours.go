package broker

import "time"

// marketLocation is the exchange timezone. Falls back to a fixed +05:30
// offset if the tz database is unavailable.
var marketLocation = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.FixedZone("IST", 5*3600+1800)
	}
	return loc
}()

// TokenExpiry returns when a token issued at the given time expires. The
// broker invalidates tokens at 03:30 IST on the calendar day after
// issuance, regardless of any expires_in it reports.
func TokenExpiry(issued time.Time) time.Time {
	ist := issued.In(marketLocation)
	next := ist.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), 3, 30, 0, 0, marketLocation)
}

// IsMarketOpenAt reports whether the exchange is trading at the given
// instant: weekdays 09:15 to 15:30 IST inclusive. Exchange holidays are
// not tracked.
func IsMarketOpenAt(t time.Time) bool {
	ist := t.In(marketLocation)

	switch ist.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	minutes := ist.Hour()*60 + ist.Minute()
	return minutes >= 9*60+15 && minutes <= 15*60+30
}

// IsMarketOpen reports whether the exchange is trading right now.
func IsMarketOpen() bool {
	return IsMarketOpenAt(time.Now())
}
