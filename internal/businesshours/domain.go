package businesshours

import (
	"errors"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Weekday identifies a day of the week in schedules.
type Weekday string

const (
	Monday    Weekday = "monday"
	Tuesday   Weekday = "tuesday"
	Wednesday Weekday = "wednesday"
	Thursday  Weekday = "thursday"
	Friday    Weekday = "friday"
	Saturday  Weekday = "saturday"
	Sunday    Weekday = "sunday"
)

// Week lists weekdays in schedule order.
var Week = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

var weekdayNames = cases.Title(language.English)

// WeekdayOf maps a time.Weekday to the schedule identifier.
func WeekdayOf(d time.Weekday) Weekday {
	switch d {
	case time.Monday:
		return Monday
	case time.Tuesday:
		return Tuesday
	case time.Wednesday:
		return Wednesday
	case time.Thursday:
		return Thursday
	case time.Friday:
		return Friday
	case time.Saturday:
		return Saturday
	default:
		return Sunday
	}
}

// Next returns the following weekday, wrapping Sunday to Monday.
func (d Weekday) Next() Weekday {
	for i, day := range Week {
		if day == d {
			return Week[(i+1)%len(Week)]
		}
	}
	return Monday
}

// DisplayName returns the human readable day name.
func (d Weekday) DisplayName() string {
	return weekdayNames.String(string(d))
}

// WorkingDay describes opening hours for a single weekday.
type WorkingDay struct {
	Day       Weekday `json:"day"`
	IsActive  bool    `json:"isActive"`
	OpenTime  string  `json:"openTime"`
	CloseTime string  `json:"closeTime"`
}

// Settings is the persisted business hours configuration.
type Settings struct {
	IsEnabled         bool         `json:"isEnabled"`
	WorkingDays       []WorkingDay `json:"workingDays"`
	OffWorkMessage    string       `json:"offWorkMessage"`
	OperatingTimezone string       `json:"operatingTimezone,omitempty"`
}

// Day looks up the schedule entry for the given weekday.
func (s Settings) Day(day Weekday) (WorkingDay, bool) {
	for _, wd := range s.WorkingDays {
		if wd.Day == day {
			return wd, true
		}
	}
	return WorkingDay{}, false
}

// Clone returns a deep copy so cached values cannot be mutated by callers.
func (s Settings) Clone() Settings {
	out := s
	if s.WorkingDays != nil {
		out.WorkingDays = make([]WorkingDay, len(s.WorkingDays))
		copy(out.WorkingDays, s.WorkingDays)
	}
	return out
}

// Status reports whether the store is open and why not.
type Status struct {
	IsOpen  bool   `json:"isOpen"`
	Message string `json:"message"`
}

// UpdateResult reports the outcome of a settings write.
type UpdateResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

const (
	// DefaultTimezone is the civil zone the store operates in.
	DefaultTimezone = "Asia/Jakarta"
	// DefaultOffWorkMessage is shown to customers outside business hours.
	DefaultOffWorkMessage = "We are currently closed. Orders placed now will be processed during business hours."
)

// DefaultSettings returns the built-in schedule used when nothing is stored.
func DefaultSettings() Settings {
	days := make([]WorkingDay, 0, len(Week))
	for _, day := range Week {
		wd := WorkingDay{Day: day, IsActive: true, OpenTime: "08:00", CloseTime: "17:00"}
		switch day {
		case Saturday:
			wd.CloseTime = "15:00"
		case Sunday:
			wd.IsActive = false
		}
		days = append(days, wd)
	}
	return Settings{
		IsEnabled:         false,
		WorkingDays:       days,
		OffWorkMessage:    DefaultOffWorkMessage,
		OperatingTimezone: DefaultTimezone,
	}
}

// ErrSettingNotFound is returned by stores when the key has no value.
var ErrSettingNotFound = errors.New("businesshours: setting not found")

// ErrUnknownTimezone indicates an operating timezone the zone database cannot resolve.
var ErrUnknownTimezone = errors.New("businesshours: unknown timezone")

// ErrInvalidClock indicates a malformed HH:MM value.
var ErrInvalidClock = errors.New("businesshours: invalid time of day")
