package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"chronod/internal/calendar"
	"chronod/internal/config"
	"chronod/internal/task/scheduler"
	"chronod/internal/timer"
	logx "chronod/pkg/logx"
)

// autoTimer is a configured calendar timer resolved for one owner.
type autoTimer struct {
	owner      string
	target     timer.Target
	spec       calendar.Spec
	info       string
	persistent bool
}

// key identifies an auto timer across restarts: same callback, same schedule.
func (a autoTimer) key() string {
	return timerKey(a.target, a.spec)
}

func timerKey(t timer.Target, spec calendar.Spec) string {
	return t.String() + " " + spec.String() + " " + boundText(spec.Start) + " " + boundText(spec.End)
}

func boundText(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func targetOf(owner string, at config.AutoTimerConfig) timer.Target {
	dt := strings.TrimSpace(at.DeclaringType)
	if dt == "" {
		dt = owner
	}
	return timer.Target{
		DeclaringType: dt,
		Method:        strings.TrimSpace(at.Method),
		Params:        append([]string(nil), at.Params...),
	}
}

func sameTarget(a, b timer.Target) bool {
	return a.DeclaringType == b.DeclaringType && a.Method == b.Method && slices.Equal(a.Params, b.Params)
}

// calendarSpecOf builds the schedule from either Schedule or the seven
// calendar fields and checks that it parses.
func calendarSpecOf(at config.AutoTimerConfig) (calendar.Spec, error) {
	var spec calendar.Spec
	fieldsSet := at.Second != "" || at.Minute != "" || at.Hour != "" || at.DayOfMonth != "" ||
		at.Month != "" || at.DayOfWeek != "" || at.Year != ""

	if s := strings.TrimSpace(at.Schedule); s != "" {
		if fieldsSet {
			return calendar.Spec{}, errors.New("schedule and calendar fields are mutually exclusive")
		}
		ps, err := scheduler.ParseSchedule(s)
		if err != nil {
			return calendar.Spec{}, err
		}
		if ps.Kind != scheduler.SpecCalendar {
			return calendar.Spec{}, fmt.Errorf("schedule %q is an interval; auto timers need a calendar schedule", s)
		}
		spec = ps.Calendar
	} else {
		spec = calendar.Spec{
			Second:     at.Second,
			Minute:     at.Minute,
			Hour:       at.Hour,
			DayOfMonth: at.DayOfMonth,
			Month:      at.Month,
			DayOfWeek:  at.DayOfWeek,
			Year:       at.Year,
		}
	}

	if tz := strings.TrimSpace(at.Timezone); tz != "" {
		spec.Timezone = tz
	}
	var err error
	if spec.Start, err = parseBound("start", at.Start); err != nil {
		return calendar.Spec{}, err
	}
	if spec.End, err = parseBound("end", at.End); err != nil {
		return calendar.Spec{}, err
	}
	expr, err := calendar.NewExpression(spec)
	if err != nil {
		return calendar.Spec{}, err
	}
	return expr.Spec(), nil
}

func parseBound(name, raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: invalid RFC 3339 time %q: %w", name, raw, err)
	}
	return t, nil
}

// buildAutoTimers resolves every configured auto timer, grouped by owner.
func buildAutoTimers(cfg *config.Config) (map[string][]autoTimer, error) {
	out := map[string][]autoTimer{}
	for i, o := range cfg.Owners {
		name := strings.TrimSpace(o.Name)
		for j, at := range o.AutoTimers {
			path := fmt.Sprintf("owners[%d].auto_timers[%d]", i, j)
			if strings.TrimSpace(at.Method) == "" {
				return nil, fmt.Errorf("%s.method is required", path)
			}
			spec, err := calendarSpecOf(at)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			persistent := true
			if at.Persistent != nil {
				persistent = *at.Persistent
			}
			out[name] = append(out[name], autoTimer{
				owner:      name,
				target:     targetOf(name, at),
				spec:       spec,
				info:       at.Info,
				persistent: persistent,
			})
		}
	}
	return out, nil
}

// resolveTarget reports whether the current config still declares target for
// owner. Stored auto timers that fail this check load as tombstones.
func (a *App) resolveTarget(owner string, target timer.Target) bool {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return false
	}
	for _, o := range cfg.Owners {
		if strings.TrimSpace(o.Name) != owner {
			continue
		}
		for _, at := range o.AutoTimers {
			if sameTarget(targetOf(owner, at), target) {
				return true
			}
		}
	}
	return false
}

// syncAutoTimers makes each owner's live auto timers match cfg: missing ones
// are created, ones no longer configured are canceled. Timers restored from
// the store count as existing, so a restart does not duplicate them.
func (a *App) syncAutoTimers(ctx context.Context, prev, cfg *config.Config) error {
	want, err := buildAutoTimers(cfg)
	if err != nil {
		return err
	}
	// Match what the scheduler stores for zone-less specs so keys compare.
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		for _, list := range want {
			for i := range list {
				if list[i].spec.Timezone == "" {
					list[i].spec.Timezone = tz
				}
			}
		}
	}

	owners := map[string]struct{}{}
	for _, o := range cfg.Owners {
		owners[strings.TrimSpace(o.Name)] = struct{}{}
	}
	// Owners dropped from the config keep running, but lose their auto timers.
	if prev != nil {
		for _, o := range prev.Owners {
			owners[strings.TrimSpace(o.Name)] = struct{}{}
		}
	}

	var errs []error
	for name := range owners {
		if err := a.syncOwner(ctx, name, want[name]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) syncOwner(ctx context.Context, owner string, want []autoTimer) error {
	live, err := a.sched.ActiveTimers(owner)
	if err != nil {
		if errors.Is(err, scheduler.ErrUnknownOwner) && len(want) == 0 {
			return nil
		}
		return err
	}

	have := map[string][]*timer.Record{}
	for _, r := range live {
		if r.Target == nil || r.Kind != timer.Calendar {
			continue
		}
		k := timerKey(*r.Target, r.Calendar)
		have[k] = append(have[k], r)
	}

	var (
		errs    []error
		created int
	)
	for _, at := range want {
		k := at.key()
		if recs := have[k]; len(recs) > 0 {
			have[k] = recs[1:]
			continue
		}
		target := at.target
		id, err := a.sched.CreateCalendarTimer(ctx, owner, at.spec, at.info, scheduler.TimerOptions{
			Transient: !at.persistent,
			Target:    &target,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("auto timer %s: %w", at.target, err))
			continue
		}
		created++
		a.log.Debug("auto timer created", logx.String("owner", owner), logx.String("id", id),
			logx.String("target", at.target.String()), logx.String("schedule", at.spec.String()))
	}

	canceled := 0
	for _, recs := range have {
		for _, r := range recs {
			if err := a.sched.Cancel(ctx, r.ID); err != nil && !errors.Is(err, scheduler.ErrUnknownTimer) {
				errs = append(errs, fmt.Errorf("auto timer %s: %w", r.Target, err))
				continue
			}
			canceled++
			a.log.Debug("auto timer removed", logx.String("owner", owner), logx.String("id", r.ID),
				logx.String("target", r.Target.String()))
		}
	}

	if created > 0 || canceled > 0 {
		a.log.Info("auto timers synced", logx.String("owner", owner),
			logx.Int("created", created), logx.Int("canceled", canceled), logx.Int("configured", len(want)))
	}
	return errors.Join(errs...)
}
