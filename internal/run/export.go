package run

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"backend-runtracker/internal/shared/geo"

	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"
	"github.com/tkrajina/gpxgo/gpx"
)

const (
	gpxCreator = "backend-runtracker"

	// FIT stores positions in semicircles, 2^31 per 180 degrees.
	semicirclesPerHalfTurn = 1 << 31
)

// ExportGPX renders a finished session's track as a GPX 1.1 document.
func (s *Service) ExportGPX(ctx context.Context, sessionID string) ([]byte, error) {
	session, track, err := s.finishedTrack(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	points := make([]gpx.GPXPoint, 0, len(track))
	for _, sample := range track {
		p := gpx.GPXPoint{
			Point: gpx.Point{
				Latitude:  sample.Latitude,
				Longitude: sample.Longitude,
			},
			Timestamp: sample.Time(),
		}
		if sample.Altitude != nil {
			p.Elevation = *gpx.NewNullableFloat64(*sample.Altitude)
		}
		points = append(points, p)
	}

	doc := &gpx.GPX{
		Creator: gpxCreator,
		Tracks: []gpx.GPXTrack{{
			Name:     "Run " + session.StartTime.Format("2006-01-02 15:04"),
			Type:     "running",
			Segments: []gpx.GPXTrackSegment{{Points: points}},
		}},
	}
	return doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
}

// ExportFIT encodes a finished session as a FIT activity file.
func (s *Service) ExportFIT(ctx context.Context, sessionID string) ([]byte, error) {
	session, track, err := s.finishedTrack(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	activity := proto.FIT{}

	fileID := mesgdef.FileId{
		Type:         typedef.FileActivity,
		Manufacturer: typedef.ManufacturerDevelopment,
		TimeCreated:  session.StartTime,
	}
	activity.Messages = append(activity.Messages, fileID.ToMesg(nil))

	var cumulativeKm float64
	for i, sample := range track {
		if i > 0 {
			prev := track[i-1]
			cumulativeKm += geo.HaversineKm(prev.Latitude, prev.Longitude, sample.Latitude, sample.Longitude)
		}
		record := mesgdef.Record{
			Timestamp:    sample.Time(),
			PositionLat:  semicircles(clampLatitude(sample.Latitude)),
			PositionLong: semicircles(wrapLongitude(sample.Longitude)),
			Distance:     kmToCentimeters(cumulativeKm),
		}
		if sample.Altitude != nil {
			// scale 5, offset 500
			record.EnhancedAltitude = uint32(math.Max(0, (*sample.Altitude+500)*5))
		}
		if sample.Speed != nil && *sample.Speed > 0 {
			record.EnhancedSpeed = uint32(*sample.Speed * 1000)
		}
		activity.Messages = append(activity.Messages, record.ToMesg(nil))
	}

	end := session.StartTime.Add(session.Duration)
	if session.EndTime != nil {
		end = *session.EndTime
	}
	elapsedMs := uint32(session.Duration / time.Millisecond)
	totalDistance := kmToCentimeters(session.Distance)

	event := mesgdef.Event{
		Timestamp: end,
		Event:     typedef.EventTimer,
		EventType: typedef.EventTypeStopAll,
	}
	lap := mesgdef.Lap{
		Timestamp:        end,
		StartTime:        session.StartTime,
		TotalElapsedTime: elapsedMs,
		TotalTimerTime:   elapsedMs,
		TotalDistance:    totalDistance,
		Event:            typedef.EventLap,
		EventType:        typedef.EventTypeStop,
	}
	summary := mesgdef.Session{
		Timestamp:        end,
		StartTime:        session.StartTime,
		TotalElapsedTime: elapsedMs,
		TotalTimerTime:   elapsedMs,
		TotalDistance:    totalDistance,
		TotalCalories:    uint16(session.Calories),
		Sport:            typedef.SportRunning,
		Event:            typedef.EventSession,
		EventType:        typedef.EventTypeStop,
		Trigger:          typedef.SessionTriggerActivityEnd,
	}
	closing := mesgdef.Activity{
		Timestamp:      end,
		TotalTimerTime: elapsedMs,
		NumSessions:    1,
		Type:           typedef.ActivityManual,
		Event:          typedef.EventActivity,
		EventType:      typedef.EventTypeStop,
	}
	activity.Messages = append(activity.Messages, event.ToMesg(nil), lap.ToMesg(nil), summary.ToMesg(nil), closing.ToMesg(nil))

	var buf bytes.Buffer
	if err := encoder.New(&buf).Encode(&activity); err != nil {
		return nil, fmt.Errorf("encode fit: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Service) finishedTrack(ctx context.Context, sessionID string) (Session, []GeoSample, error) {
	if sessionID == "" {
		return Session{}, nil, validation("Session ID is required")
	}
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return Session{}, nil, err
	}
	if session.Active {
		return Session{}, nil, validation("Session is still active")
	}
	track, err := s.positions(ctx, sessionID)
	if err != nil {
		return Session{}, nil, err
	}
	return session, track, nil
}

// semicircles converts degrees in [-180, 180) to FIT's int32 semicircles.
func semicircles(deg float64) int32 {
	return int32(deg / 180 * semicirclesPerHalfTurn)
}

func clampLatitude(lat float64) float64 {
	return math.Max(-90, math.Min(90, lat))
}

// wrapLongitude maps any longitude into [-180, 180).
func wrapLongitude(lng float64) float64 {
	lng = math.Mod(lng+180, 360)
	if lng < 0 {
		lng += 360
	}
	return lng - 180
}

func kmToCentimeters(km float64) uint32 {
	return uint32(math.Round(km * 100000))
}
