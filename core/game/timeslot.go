package game

import "time"

type TimeSlot string

const (
	TimeSlotMorning TimeSlot = "morning"
	TimeSlotDaytime TimeSlot = "daytime"
	TimeSlotEvening TimeSlot = "evening"
	TimeSlotNight   TimeSlot = "night"
)

// TimeSlotOf buckets the local hour of t: morning 5-11, daytime 11-17,
// evening 17-21, night otherwise.
func TimeSlotOf(t time.Time) TimeSlot {
	switch hour := t.Hour(); {
	case hour >= 5 && hour < 11:
		return TimeSlotMorning
	case hour >= 11 && hour < 17:
		return TimeSlotDaytime
	case hour >= 17 && hour < 21:
		return TimeSlotEvening
	default:
		return TimeSlotNight
	}
}

// Label is the Japanese word the character uses for the slot.
func (s TimeSlot) Label() string {
	switch s {
	case TimeSlotMorning:
		return "朝"
	case TimeSlotDaytime:
		return "昼"
	case TimeSlotEvening:
		return "夕方"
	default:
		return "夜"
	}
}
