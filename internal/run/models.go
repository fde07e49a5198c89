package run

import "time"

type GeoSample struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Timestamp int64    `json:"timestamp"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
}

func (g GeoSample) Time() time.Time {
	return time.UnixMilli(g.Timestamp).UTC()
}

// Session is one tracked run. The full track is kept by the Store; the
// session only carries the last received sample so distance can be
// accumulated without reading the whole track back.
type Session struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     *time.Time    `json:"end_time,omitempty"`
	Distance    float64       `json:"distance_km"`
	Duration    time.Duration `json:"duration_ns"`
	AveragePace string        `json:"average_pace"`
	Calories    int           `json:"calories"`
	Active      bool          `json:"is_active"`
	SampleCount int           `json:"sample_count"`
	LastSample  *GeoSample    `json:"last_sample,omitempty"`
}

type Fix struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	Altitude  *float64 `json:"altitude"`
	Speed     *float64 `json:"speed"`
}

type Progress struct {
	Distance        string    `json:"distance"`
	Duration        string    `json:"duration"`
	Pace            string    `json:"pace"`
	Calories        int       `json:"calories"`
	CurrentPosition GeoSample `json:"currentPosition"`
}

// Summary is the read-only view of a finished run. Date is only filled in
// history listings.
type Summary struct {
	ID        string  `json:"id"`
	Distance  string  `json:"distance"`
	Duration  string  `json:"duration"`
	Pace      string  `json:"pace"`
	Calories  int     `json:"calories"`
	Date      string  `json:"date,omitempty"`
	StartTime string  `json:"startTime"`
	EndTime   *string `json:"endTime"`
}

// finishedAt is the end time, or the start time for sessions that were never
// stamped.
func (s Session) finishedAt() time.Time {
	if s.EndTime != nil {
		return *s.EndTime
	}
	return s.StartTime
}
