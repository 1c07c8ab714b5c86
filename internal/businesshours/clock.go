package businesshours

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Clock is a wall-clock reading in the operating timezone.
type Clock struct {
	Weekday Weekday
	Minutes int
}

// jakartaFixed is used when the zone database cannot resolve the default zone.
var jakartaFixed = time.FixedZone("WIB", 7*60*60)

var (
	zoneMu    sync.Mutex
	zoneCache = map[string]*time.Location{}
)

// ValidateTimezone reports whether name is a zone the database can resolve.
// The default zone always validates since Location has a fixed fallback for it.
func ValidateTimezone(name string) error {
	if name == "" || name == DefaultTimezone {
		return nil
	}
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	return nil
}

// Location resolves a zone name. The default zone falls back to a fixed UTC+7
// offset; any other unknown name is logged once and resolves to the default zone.
func Location(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	zoneMu.Lock()
	defer zoneMu.Unlock()
	return locationLocked(name)
}

func locationLocked(name string) *time.Location {
	if loc, ok := zoneCache[name]; ok {
		return loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name == DefaultTimezone {
			loc = jakartaFixed
		} else {
			slog.Warn("unknown operating timezone, using default",
				slog.String("timezone", name), slog.String("default", DefaultTimezone))
			loc = locationLocked(DefaultTimezone)
		}
	}
	zoneCache[name] = loc
	return loc
}

// CivilTime reads the weekday and minutes since midnight of t in the named zone.
func CivilTime(t time.Time, zone string) Clock {
	local := t.In(Location(zone))
	return Clock{
		Weekday: WeekdayOf(local.Weekday()),
		Minutes: local.Hour()*60 + local.Minute(),
	}
}

// ParseClock converts "HH:MM" into minutes since midnight.
func ParseClock(value string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, value)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, value)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, value)
	}
	return hour*60 + minute, nil
}

// withinWindow reports whether current falls inside [openAt, closeAt]. A close
// earlier than the opening denotes a window that runs past midnight.
func withinWindow(openAt, closeAt, current int) bool {
	if closeAt < openAt {
		return current >= openAt || current <= closeAt
	}
	return current >= openAt && current <= closeAt
}

// isOpenAt evaluates a schedule for one civil clock reading.
func isOpenAt(settings Settings, now Clock) (bool, error) {
	day, ok := settings.Day(now.Weekday)
	if !ok || !day.IsActive {
		return false, nil
	}
	openAt, err := ParseClock(day.OpenTime)
	if err != nil {
		return false, err
	}
	closeAt, err := ParseClock(day.CloseTime)
	if err != nil {
		return false, err
	}
	return withinWindow(openAt, closeAt, now.Minutes), nil
}

// closedMessage composes the customer facing text while the store is closed.
func closedMessage(settings Settings, now Clock) (string, error) {
	base := strings.TrimSpace(settings.OffWorkMessage)
	if today, ok := settings.Day(now.Weekday); ok && today.IsActive {
		openAt, err := ParseClock(today.OpenTime)
		if err != nil {
			return "", err
		}
		if now.Minutes < openAt {
			return joinMessage(base, fmt.Sprintf("Opens today at %s.", today.OpenTime)), nil
		}
	}
	tomorrow := now.Weekday.Next()
	if next, ok := settings.Day(tomorrow); ok && next.IsActive {
		return joinMessage(base, fmt.Sprintf("Opens tomorrow (%s) at %s.", tomorrow.DisplayName(), next.OpenTime)), nil
	}
	day := tomorrow
	for i := 0; i < len(Week)-1; i++ {
		day = day.Next()
		if next, ok := settings.Day(day); ok && next.IsActive {
			return joinMessage(base, fmt.Sprintf("Opens on %s at %s.", day.DisplayName(), next.OpenTime)), nil
		}
	}
	return base, nil
}

func joinMessage(base, suffix string) string {
	if base == "" {
		return suffix
	}
	return base + " " + suffix
}
