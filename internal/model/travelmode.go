package model

import (
	"fmt"
	"strings"
)

type TravelMode int

const (
	Driving TravelMode = iota
	Walking
	Bicycling
	Transit
)

func (tm TravelMode) String() string {
	if tm < Driving || tm > Transit {
		return "UNKNOWN"
	}
	return [...]string{
		"DRIVING",
		"WALKING",
		"BICYCLING",
		"TRANSIT",
	}[tm]
}

// ParseTravelMode accepts the mode names case-insensitively, e.g. "walking" or "WALKING".
func ParseTravelMode(s string) (TravelMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DRIVING":
		return Driving, nil
	case "WALKING":
		return Walking, nil
	case "BICYCLING":
		return Bicycling, nil
	case "TRANSIT":
		return Transit, nil
	}
	return Driving, fmt.Errorf("unknown travel mode %q", s)
}
