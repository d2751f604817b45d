// Package opt implements the daily-route ordering heuristic and ETA math.
package opt

import (
	"fmt"
	"math"

	"fieldroute/internal/model"
)

// earthRadiusMiles for great-circle distance.
const earthRadiusMiles = 3959.0

// Stop is the minimal view of an event the router needs.
type Stop struct {
	ID              string
	Priority        model.Priority
	Coord           model.GeoPoint
	ScheduledTime   string // "HH:MM"
	DurationMinutes int
}

// Leg is one scheduled stop in the computed visiting order.
type Leg struct {
	// StopIndex refers back into the input slice passed to BuildPlan.
	StopIndex int
	// RouteOrder is the 1-based position in the final route.
	RouteOrder int
	// DistanceFromPrevious is straight-line miles from the prior position
	// (the warehouse for the first leg), rounded to one decimal.
	DistanceFromPrevious float64
	TravelMinutes        int
	// Arrival is the running-clock value when the driver reaches the stop,
	// formatted "HH:MM" with hours mod 24.
	Arrival string
}

// Plan is the computed route for one worker-day.
type Plan struct {
	Legs          []Leg
	TotalDistance float64
	// TotalMinutes counts travel plus on-site duration for every stop.
	TotalMinutes int
}

// HaversineMiles returns the great-circle distance between two points.
func HaversineMiles(a, b model.GeoPoint) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMiles * c
}

// TravelMinutes converts straight-line miles to whole minutes at a fixed
// average speed.
func TravelMinutes(miles, mph float64) int {
	if mph <= 0 {
		return 0
	}
	return int(math.Round(miles / mph * 60))
}

// ParseClock parses a zero-padded 24-hour "HH:MM" string into minutes
// since midnight. Malformed input yields 0 (start-of-day) rather than an
// error; upstream data is dispatcher-entered and always zero-padded.
func ParseClock(s string) int {
	var h, m int
	if n, err := fmt.Sscanf(s, "%2d:%2d", &h, &m); err != nil || n != 2 {
		return 0
	}
	if h < 0 || m < 0 {
		return 0
	}
	return h*60 + m
}

// FormatClock renders minutes-since-midnight as "HH:MM". Hours wrap mod 24:
// a route whose cumulative time crosses midnight wraps silently instead of
// rolling to the next calendar day.
func FormatClock(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%02d:%02d", (minutes/60)%24, minutes%60)
}

// OrderStops returns the visiting order as indices into stops.
//
// Urgent stops come first and keep their input order, then rush stops in
// input order, then normal stops arranged greedy nearest-neighbor starting
// from the warehouse. Ties on distance go to the first stop encountered in
// scan order (strict less-than), which keeps the ordering deterministic.
func OrderStops(stops []Stop, warehouse model.GeoPoint) []int {
	var urgent, rush, normal []int
	for i, s := range stops {
		switch s.Priority {
		case model.PriorityUrgent:
			urgent = append(urgent, i)
		case model.PriorityRush:
			rush = append(rush, i)
		default:
			normal = append(normal, i)
		}
	}

	order := make([]int, 0, len(stops))
	order = append(order, urgent...)
	order = append(order, rush...)

	cur := warehouse
	remaining := append([]int(nil), normal...)
	for len(remaining) > 0 {
		best := 0
		bestDist := HaversineMiles(cur, stops[remaining[0]].Coord)
		for j := 1; j < len(remaining); j++ {
			if d := HaversineMiles(cur, stops[remaining[j]].Coord); d < bestDist {
				best = j
				bestDist = d
			}
		}
		idx := remaining[best]
		order = append(order, idx)
		cur = stops[idx].Coord
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return order
}

// BuildPlan orders stops and walks the result computing per-leg distance
// and arrival times. The running clock starts at the first ordered stop's
// scheduled time; each leg's arrival is the clock after travel but before
// the stop's own on-site duration.
func BuildPlan(stops []Stop, warehouse model.GeoPoint, mph float64) Plan {
	order := OrderStops(stops, warehouse)
	plan := Plan{Legs: make([]Leg, 0, len(order))}
	if len(order) == 0 {
		return plan
	}

	clock := ParseClock(stops[order[0]].ScheduledTime)
	prev := warehouse
	for i, idx := range order {
		s := stops[idx]
		miles := round1(HaversineMiles(prev, s.Coord))
		travel := TravelMinutes(miles, mph)
		clock += travel
		plan.Legs = append(plan.Legs, Leg{
			StopIndex:            idx,
			RouteOrder:           i + 1,
			DistanceFromPrevious: miles,
			TravelMinutes:        travel,
			Arrival:              FormatClock(clock),
		})
		clock += s.DurationMinutes
		plan.TotalDistance = round1(plan.TotalDistance + miles)
		plan.TotalMinutes += travel + s.DurationMinutes
		prev = s.Coord
	}
	return plan
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
