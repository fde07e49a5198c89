package run

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

const (
	caloriesPerKm = 65
	isoMillis     = "2006-01-02T15:04:05.000Z07:00"
)

// FormatDuration renders d as H:MM:SS from one hour on, M:SS below.
func FormatDuration(d time.Duration) string {
	totalSeconds := int64(d / time.Second)
	if totalSeconds < 0 {
		totalSeconds = 0
	}
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// CalculatePace returns the time per kilometer as M:SS.
func CalculatePace(distanceKm float64, d time.Duration) string {
	if distanceKm == 0 {
		return "0:00"
	}
	pace := d.Seconds() / distanceKm
	minutes := math.Floor(pace / 60)
	seconds := math.Floor(math.Mod(pace, 60))
	return fmt.Sprintf("%d:%02d", int64(minutes), int64(seconds))
}

func Calories(distanceKm float64) int {
	return int(math.Round(distanceKm * caloriesPerKm))
}

func FormatDistance(distanceKm float64) string {
	return strconv.FormatFloat(distanceKm, 'f', 2, 64)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(isoMillis)
}
