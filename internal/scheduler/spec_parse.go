package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// MinInterval is the finest interval cron can trigger.
const MinInterval = time.Second

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

func (k SpecKind) String() string {
	if k == SpecInterval {
		return "interval"
	}
	return "cron"
}

// ParsedSpec is a normalized tick spec.
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // cron | duration | hhmm
}

var (
	reHHMM     = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ParseSchedule accepts "2s", "00:05", "*/10 * * * * *", "@every 5s" and the
// explicit prefixes "cron:" and "every:".
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	low := strings.ToLower(s)
	switch {
	case s == "":
		return ParsedSpec{}, fmt.Errorf("tick spec required")
	case strings.HasPrefix(low, "cron:"):
		return cronSpec(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return intervalSpec(strings.TrimSpace(s[len("every:"):]))
	case strings.HasPrefix(low, "@every "):
		return intervalSpec(strings.TrimSpace(s[len("@every "):]))
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return cronSpec(s)
	default:
		return intervalSpec(s)
	}
}

func cronSpec(expr string) (ParsedSpec, error) {
	if expr == "" {
		return ParsedSpec{}, fmt.Errorf("cron expression required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
}

func intervalSpec(v string) (ParsedSpec, error) {
	var (
		d   time.Duration
		src string
	)
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return ParsedSpec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d, src = time.Duration(hh)*time.Hour+time.Duration(mm)*time.Minute, "hhmm"
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid tick %q (use a duration like '2s', HH:MM, or a cron expression)", v)
		}
		src = "duration"
	}
	if d < MinInterval {
		return ParsedSpec{}, fmt.Errorf("tick interval %s is below %s", d, MinInterval)
	}
	// cron.Every truncates to whole seconds
	if d%MinInterval != 0 {
		return ParsedSpec{}, fmt.Errorf("tick interval %s is not a whole number of seconds", d)
	}
	return ParsedSpec{Kind: SpecInterval, Every: d, Source: src}, nil
}

// Schedule converts the spec into a cron trigger.
func (p ParsedSpec) Schedule() (cron.Schedule, error) {
	if p.Kind == SpecInterval {
		return cron.Every(p.Every), nil
	}
	return cronParser.Parse(p.Cron)
}

func (p ParsedSpec) String() string {
	if p.Kind == SpecInterval {
		return "@every " + p.Every.String()
	}
	return p.Cron
}
