package calendar

import "time"

// nyseHolidays returns the set of NYSE full-market-closure dates (as
// "2006-01-02" keys) for every year in [fromYear, toYear] inclusive. This
// implements the commonly observed US equity holiday schedule: New Year's
// Day, Martin Luther King Jr. Day, Washington's Birthday, Good Friday,
// Memorial Day, Juneteenth, Independence Day, Labor Day, Thanksgiving, and
// Christmas, each shifted to the nearest weekday when it falls on a
// weekend. Early-close (half) days are not modeled; a session is either
// fully open or fully closed.
func nyseHolidays(fromYear, toYear int) map[string]bool {
	out := make(map[string]bool)
	for y := fromYear; y <= toYear; y++ {
		for _, d := range nyseHolidaysForYear(y) {
			out[dateKey(d)] = true
		}
	}
	return out
}

func nyseHolidaysForYear(year int) []time.Time {
	obs := func(m time.Month, d int) time.Time {
		return observedWeekday(time.Date(year, m, d, 0, 0, 0, 0, time.UTC))
	}
	nth := func(weekday time.Weekday, n int, m time.Month) time.Time {
		return nthWeekday(year, m, weekday, n)
	}
	last := func(weekday time.Weekday, m time.Month) time.Time {
		return lastWeekday(year, m, weekday)
	}

	return []time.Time{
		obs(time.January, 1),                 // New Year's Day
		nth(time.Monday, 3, time.January),    // MLK Day
		nth(time.Monday, 3, time.February),   // Washington's Birthday
		goodFriday(year),                     // Good Friday
		last(time.Monday, time.May),          // Memorial Day
		obs(time.June, 19),                   // Juneteenth
		obs(time.July, 4),                    // Independence Day
		nth(time.Monday, 1, time.September),  // Labor Day
		nth(time.Thursday, 4, time.November), // Thanksgiving
		obs(time.December, 25),               // Christmas
	}
}

// observedWeekday shifts a fixed-date holiday that falls on Saturday back
// to Friday, and one that falls on Sunday forward to Monday.
func observedWeekday(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	default:
		return d
	}
}

func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(weekday) - int(d.Weekday()) + 7) % 7
	d = d.AddDate(0, 0, offset+7*(n-1))
	return d
}

func lastWeekday(year int, month time.Month, weekday time.Weekday) time.Time {
	// first day of next month, then walk back.
	d := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for d.Weekday() != weekday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// goodFriday computes the Friday before Easter Sunday using the
// anonymous Gregorian algorithm (Meeus/Jones/Butcher).
func goodFriday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	easter := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return easter.AddDate(0, 0, -2)
}
