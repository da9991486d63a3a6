package service

import "strings"

// PlanLimits caps what a shop on a given plan may configure. -1 means
// unlimited.
type PlanLimits struct {
	MonthlyViews int64
	Timers       int
}

var planLimits = map[string]PlanLimits{
	"free":         {MonthlyViews: 1000, Timers: 2},
	"starter":      {MonthlyViews: 10000, Timers: -1},
	"essential":    {MonthlyViews: 50000, Timers: -1},
	"professional": {MonthlyViews: -1, Timers: -1},
}

// LimitsFor returns the limits for a plan name, falling back to the free
// plan for anything unrecognized.
func LimitsFor(plan string) PlanLimits {
	if limits, ok := planLimits[strings.ToLower(plan)]; ok {
		return limits
	}
	return planLimits["free"]
}

// Exceeded reports whether a view count has passed the plan's monthly cap.
func (p PlanLimits) Exceeded(views int64) bool {
	return p.MonthlyViews >= 0 && views >= p.MonthlyViews
}

// TimersExceeded reports whether a shop is at its timer count cap.
func (p PlanLimits) TimersExceeded(count int) bool {
	return p.Timers >= 0 && count >= p.Timers
}

// ViewsRemaining returns the views left this cycle, or -1 for unlimited.
func (p PlanLimits) ViewsRemaining(views int64) int64 {
	if p.MonthlyViews < 0 {
		return -1
	}
	remaining := p.MonthlyViews - views
	if remaining < 0 {
		return 0
	}
	return remaining
}
