package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronStar marks a robfig/cron field that was written as "*" or "?".
const cronStar = uint64(1) << 63

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// SpecFromCron converts a crontab line ("0 9 * * 1-5", "0 */5 * * * *",
// "@daily", "TZ=Europe/Paris 0 8 * * *") into a calendar Spec. Fixed-delay
// descriptors ("@every 5m") have no calendar form; use an interval timer.
func SpecFromCron(text string) (Spec, error) {
	sched, err := cronParser.Parse(strings.TrimSpace(text))
	if err != nil {
		return Spec{}, fmt.Errorf("%w: cron %q: %v", ErrInvalidExpression, text, err)
	}
	ss, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return Spec{}, fmt.Errorf("%w: cron %q: fixed-delay schedules are interval timers", ErrInvalidExpression, text)
	}
	spec := Spec{
		Second:     cronBits(ss.Second, 0, 59),
		Minute:     cronBits(ss.Minute, 0, 59),
		Hour:       cronBits(ss.Hour, 0, 23),
		DayOfMonth: cronBits(ss.Dom, 1, 31),
		Month:      cronBits(ss.Month, 1, 12),
		DayOfWeek:  cronBits(ss.Dow, 0, 6),
		Year:       "*",
	}
	if ss.Location != nil && ss.Location != time.Local {
		spec.Timezone = ss.Location.String()
	}
	return spec, nil
}

func cronBits(bits uint64, lo, hi int) string {
	if bits&cronStar != 0 {
		return "*"
	}
	vals := make([]string, 0, hi-lo+1)
	for v := lo; v <= hi; v++ {
		if bits&(uint64(1)<<uint(v)) != 0 {
			vals = append(vals, strconv.Itoa(v))
		}
	}
	return strings.Join(vals, ",")
}
