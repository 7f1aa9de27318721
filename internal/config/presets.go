package config

import (
	"sort"
	"time"
)

// Presets are named flight plans selectable with `fly --preset`.
var Presets = map[string]FlightPlanConfig{
	"hop": {
		Name: "hop", Settle: 5 * time.Second, Dwell: 10 * time.Second,
		Waypoints: []WaypointConfig{
			{North: 0, East: 0, Down: -1},
			{North: 0, East: 0, Down: 1},
		},
	},
	"square": {
		Name: "square", Settle: 5 * time.Second, Dwell: 6 * time.Second,
		RequirePositionEstimate: true,
		Waypoints: []WaypointConfig{
			{North: 0, East: 0, Down: -2},
			{North: 2, East: 0, Down: -2, Yaw: 0},
			{North: 2, East: 2, Down: -2, Yaw: 90},
			{North: 0, East: 2, Down: -2, Yaw: 180},
			{North: 0, East: 0, Down: -2, Yaw: 270},
			{North: 0, East: 0, Down: 1},
		},
	},
	"hover": {
		Name: "hover", Settle: 5 * time.Second, Dwell: 30 * time.Second,
		Waypoints: []WaypointConfig{
			{North: 0, East: 0, Down: -1.5},
			{North: 0, East: 0, Down: 1},
		},
	},
}

// GetPreset returns a copy of the named plan, or nil.
func GetPreset(name string) *FlightPlanConfig {
	p, ok := Presets[name]
	if !ok {
		return nil
	}
	p.Waypoints = append([]WaypointConfig(nil), p.Waypoints...)
	return &p
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
