// Package businesshours decides whether a campaign may dial at a given instant.
//
// Slots are evaluated in the configuration's timezone (falling back to the campaign
// timezone), never in the server's local time. Evaluation errors resolve according to
// the evaluator's failure policy: open by default, so a misconfigured timezone keeps a
// campaign dialing instead of stalling it forever.
package businesshours

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/acme/voice-campaign-core/internal/domain"
)

// scanDays bounds NextWindowStart: today plus the following six days.
const scanDays = 7

var weekdayNames = map[time.Weekday]string{
	time.Sunday:    "sunday",
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
}

// Evaluator applies business-hours configurations.
type Evaluator struct {
	failClosed bool
	logger     *zap.Logger
}

// NewEvaluator builds an evaluator. failClosed=true blocks dialing when a configuration
// cannot be evaluated.
func NewEvaluator(failClosed bool, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{failClosed: failClosed, logger: logger}
}

// Default is the fail-open evaluator without logging.
var Default = NewEvaluator(false, nil)

// FailClosed reports the evaluator's failure policy.
func (e *Evaluator) FailClosed() bool {
	return e.failClosed
}

// IsWithinWindow reports whether now falls inside any slot configured for the current day.
func (e *Evaluator) IsWithinWindow(cfg *domain.BusinessHours, fallbackTZ string, now time.Time) bool {
	if !Restricted(cfg) {
		return true
	}

	loc, err := resolveLocation(cfg, fallbackTZ)
	if err != nil {
		return e.onError(err)
	}

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()
	for _, slot := range cfg.Schedule[weekdayNames[local.Weekday()]] {
		start, end, err := parseSlot(slot)
		if err != nil {
			return e.onError(err)
		}
		if minute >= start && minute <= end {
			return true
		}
	}
	return false
}

// NextWindowStart returns the start of the earliest slot, today included, whose end has
// not passed. A nil result means no restriction applies or no slot exists in the next
// seven days.
func (e *Evaluator) NextWindowStart(cfg *domain.BusinessHours, fallbackTZ string, now time.Time) *time.Time {
	if !Restricted(cfg) {
		return nil
	}

	loc, err := resolveLocation(cfg, fallbackTZ)
	if err != nil {
		e.onError(err)
		return nil
	}

	local := now.In(loc)
	for offset := 0; offset < scanDays; offset++ {
		day := time.Date(local.Year(), local.Month(), local.Day()+offset, 0, 0, 0, 0, loc)
		slots, err := sortedSlots(cfg.Schedule[weekdayNames[day.Weekday()]])
		if err != nil {
			e.onError(err)
			return nil
		}
		for _, s := range slots {
			end := atMinute(day, s[1]).Add(time.Minute - time.Nanosecond)
			if end.Before(local) {
				continue
			}
			start := atMinute(day, s[0])
			return &start
		}
	}
	return nil
}

// BlockedRanges returns the complement of a weekday's slots as minute-of-day ranges
// [start, end). A day with no slots is blocked entirely.
func BlockedRanges(cfg *domain.BusinessHours, day time.Weekday) ([][2]int, error) {
	slots, err := sortedSlots(cfg.Schedule[weekdayNames[day]])
	if err != nil {
		return nil, err
	}

	var blocked [][2]int
	cursor := 0
	for _, s := range slots {
		if s[0] > cursor {
			blocked = append(blocked, [2]int{cursor, s[0]})
		}
		if s[1]+1 > cursor {
			cursor = s[1] + 1
		}
	}
	if cursor < 24*60 {
		blocked = append(blocked, [2]int{cursor, 24 * 60})
	}
	return blocked, nil
}

// Restricted reports whether cfg limits dialing at all.
func Restricted(cfg *domain.BusinessHours) bool {
	return cfg != nil && cfg.Enabled
}

// Validate rejects configurations that could only ever be evaluated through the failure policy.
func Validate(cfg *domain.BusinessHours, fallbackTZ string) error {
	if cfg == nil {
		return nil
	}
	if _, err := resolveLocation(cfg, fallbackTZ); err != nil {
		return err
	}
	for day, slots := range cfg.Schedule {
		if !knownDay(day) {
			return fmt.Errorf("unknown weekday %q", day)
		}
		for _, slot := range slots {
			if _, _, err := parseSlot(slot); err != nil {
				return fmt.Errorf("%s: %w", day, err)
			}
		}
	}
	return nil
}

// WeekdayName returns the schedule key for a weekday.
func WeekdayName(d time.Weekday) string {
	return weekdayNames[d]
}

// FormatMinute renders a minute-of-day as HH:MM. 1440 renders as 24:00.
func FormatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

func (e *Evaluator) onError(err error) bool {
	e.logger.Warn("business hours: evaluation failed",
		zap.Error(err),
		zap.Bool("fail_closed", e.failClosed),
	)
	return !e.failClosed
}

func resolveLocation(cfg *domain.BusinessHours, fallbackTZ string) (*time.Location, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = fallbackTZ
	}
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

func knownDay(day string) bool {
	for _, name := range weekdayNames {
		if name == day {
			return true
		}
	}
	return false
}

func parseSlot(slot domain.TimeSlot) (int, int, error) {
	start, err := parseClock(slot.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err := parseClock(slot.End)
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("slot %s-%s ends before it starts", slot.Start, slot.End)
	}
	return start, end, nil
}

func parseClock(v string) (int, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", v)
	}
	return h*60 + m, nil
}

func sortedSlots(slots []domain.TimeSlot) ([][2]int, error) {
	out := make([][2]int, 0, len(slots))
	for _, slot := range slots {
		start, end, err := parseSlot(slot)
		if err != nil {
			return nil, err
		}
		out = append(out, [2]int{start, end})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out, nil
}

func atMinute(day time.Time, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, day.Location())
}
