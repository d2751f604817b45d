package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldroute/internal/model"
)

var warehouse = model.GeoPoint{Lat: 34.7304, Lng: -86.5861}

func TestHaversineSymmetryAndZero(t *testing.T) {
	a := model.GeoPoint{Lat: 34.7304, Lng: -86.5861}
	b := model.GeoPoint{Lat: 34.6431, Lng: -86.7533}
	assert.InDelta(t, HaversineMiles(a, b), HaversineMiles(b, a), 1e-12)
	assert.Zero(t, HaversineMiles(a, a))
	// Huntsville downtown to the airport zip is roughly 11 miles
	assert.InDelta(t, 11.0, HaversineMiles(a, b), 2.0)
}

func TestTravelMinutes(t *testing.T) {
	assert.Equal(t, 60, TravelMinutes(30, 30))
	assert.Equal(t, 10, TravelMinutes(5, 30))
	// 4.9 mi / 30 mph = 9.8 min, rounds to 10
	assert.Equal(t, 10, TravelMinutes(4.9, 30))
	assert.Equal(t, 0, TravelMinutes(10, 0))
}

func TestClockRoundTrip(t *testing.T) {
	assert.Equal(t, 8*60+30, ParseClock("08:30"))
	assert.Equal(t, "08:30", FormatClock(8*60+30))
	assert.Equal(t, 0, ParseClock("garbage"))
	// cumulative time past midnight wraps silently
	assert.Equal(t, "00:15", FormatClock(24*60+15))
}

func TestOrderStopsPriorityBuckets(t *testing.T) {
	near := model.GeoPoint{Lat: 34.7320, Lng: -86.5900} // ~0.2 mi out
	far := model.GeoPoint{Lat: 34.6431, Lng: -86.7533}  // ~11 mi out
	stops := []Stop{
		{ID: "n2", Priority: model.PriorityNormal, Coord: far},
		{ID: "r", Priority: model.PriorityRush, Coord: far},
		{ID: "n1", Priority: model.PriorityNormal, Coord: near},
		{ID: "u", Priority: model.PriorityUrgent, Coord: far},
	}
	order := OrderStops(stops, warehouse)
	got := make([]string, len(order))
	for i, idx := range order {
		got[i] = stops[idx].ID
	}
	// urgent first, then rush, then normals nearest-neighbor from warehouse
	assert.Equal(t, []string{"u", "r", "n1", "n2"}, got)
}

func TestOrderStopsKeepsUrgentInputOrder(t *testing.T) {
	near := model.GeoPoint{Lat: 34.7320, Lng: -86.5900}
	far := model.GeoPoint{Lat: 34.6431, Lng: -86.7533}
	// uB is geographically closer but loaded second; it must stay second.
	stops := []Stop{
		{ID: "uA", Priority: model.PriorityUrgent, Coord: far},
		{ID: "uB", Priority: model.PriorityUrgent, Coord: near},
	}
	order := OrderStops(stops, warehouse)
	assert.Equal(t, "uA", stops[order[0]].ID)
	assert.Equal(t, "uB", stops[order[1]].ID)
}

func TestOrderStopsTieBreakFirstEncountered(t *testing.T) {
	same := model.GeoPoint{Lat: 34.7400, Lng: -86.6000}
	stops := []Stop{
		{ID: "a", Priority: model.PriorityNormal, Coord: same},
		{ID: "b", Priority: model.PriorityNormal, Coord: same},
	}
	order := OrderStops(stops, warehouse)
	assert.Equal(t, "a", stops[order[0]].ID)
	assert.Equal(t, "b", stops[order[1]].ID)
}

func TestBuildPlanETAMonotonic(t *testing.T) {
	stops := []Stop{
		{ID: "n1", Priority: model.PriorityNormal, Coord: model.GeoPoint{Lat: 34.7320, Lng: -86.5900}, ScheduledTime: "08:00", DurationMinutes: 30},
		{ID: "n2", Priority: model.PriorityNormal, Coord: model.GeoPoint{Lat: 34.6431, Lng: -86.7533}, ScheduledTime: "09:00", DurationMinutes: 45},
	}
	plan := BuildPlan(stops, warehouse, 30)
	require.Len(t, plan.Legs, 2)

	// clock starts at the first ordered stop's scheduled time
	first, second := plan.Legs[0], plan.Legs[1]
	assert.Equal(t, 1, first.RouteOrder)
	assert.Equal(t, 2, second.RouteOrder)
	firstArrives := ParseClock(first.Arrival)
	secondArrives := ParseClock(second.Arrival)
	assert.Equal(t, ParseClock("08:00")+first.TravelMinutes, firstArrives)
	// second arrival >= first arrival + first stop's duration
	assert.GreaterOrEqual(t, secondArrives, firstArrives+30)

	assert.InDelta(t, first.DistanceFromPrevious+second.DistanceFromPrevious, plan.TotalDistance, 0.05)
	assert.Equal(t, first.TravelMinutes+30+second.TravelMinutes+45, plan.TotalMinutes)
}

func TestBuildPlanEmpty(t *testing.T) {
	plan := BuildPlan(nil, warehouse, 30)
	assert.Empty(t, plan.Legs)
	assert.Zero(t, plan.TotalDistance)
	assert.Zero(t, plan.TotalMinutes)
}

func TestBuildPlanDistancesRounded(t *testing.T) {
	stops := []Stop{
		{ID: "s", Priority: model.PriorityNormal, Coord: model.GeoPoint{Lat: 34.7391, Lng: -86.6007}, ScheduledTime: "10:00", DurationMinutes: 15},
	}
	plan := BuildPlan(stops, warehouse, 30)
	require.Len(t, plan.Legs, 1)
	d := plan.Legs[0].DistanceFromPrevious
	assert.Equal(t, d, round1(d))
}
