//go:build unit

package simulator_test

import (
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hugolhafner/smartcity/event"
	"github.com/hugolhafner/smartcity/simulator"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newSim(t *testing.T, opts ...simulator.Option) *simulator.Simulator {
	t.Helper()
	opts = append([]simulator.Option{simulator.WithStartTime(start)}, opts...)
	s, err := simulator.New(opts...)
	require.NoError(t, err)
	return s
}

func runJourney(t *testing.T, s *simulator.Simulator) []event.Tick {
	t.Helper()
	st := s.Start()
	var ticks []event.Tick
	for {
		next, tick, err := s.Advance(st)
		if errors.Is(err, simulator.ErrArrived) {
			return ticks
		}
		require.NoError(t, err)
		ticks = append(ticks, tick)
		st = next
	}
}

type waypoint struct {
	ts  time.Time
	loc event.Location
}

func trajectory(ticks []event.Tick) []waypoint {
	out := make([]waypoint, 0, len(ticks))
	for _, tick := range ticks {
		out = append(out, waypoint{ts: tick.Vehicle.Timestamp, loc: tick.Vehicle.Location})
	}
	return out
}

func TestSimulator_Deterministic(t *testing.T) {
	t.Parallel()

	a := runJourney(t, newSim(t, simulator.WithSeed(7)))
	b := runJourney(t, newSim(t, simulator.WithSeed(7)))
	require.Equal(t, trajectory(a), trajectory(b))
	require.Equal(t, a[0].Weather.WeatherCondition, b[0].Weather.WeatherCondition)

	c := runJourney(t, newSim(t, simulator.WithSeed(8)))
	require.NotEqual(t, trajectory(a)[0], trajectory(c)[0])
}

func TestSimulator_IDsUniqueAcrossRuns(t *testing.T) {
	t.Parallel()

	a := runJourney(t, newSim(t, simulator.WithSeed(42)))
	b := runJourney(t, newSim(t, simulator.WithSeed(42)))
	require.Equal(t, trajectory(a), trajectory(b))

	seen := make(map[string]struct{})
	for _, tick := range append(a, b...) {
		for _, id := range []string{
			tick.Vehicle.ID, tick.GPS.ID, tick.Traffic.ID, tick.Weather.ID,
			tick.Emergency.ID, tick.Emergency.IncidentID,
		} {
			require.NotContains(t, seen, id)
			seen[id] = struct{}{}
		}
	}
}

func TestSimulator_IDGenerator(t *testing.T) {
	t.Parallel()

	n := 0
	s := newSim(
		t, simulator.WithIDGenerator(
			func() string {
				n++
				return fmt.Sprintf("id-%d", n)
			},
		),
	)
	_, tick, err := s.Advance(s.Start())
	require.NoError(t, err)
	require.Equal(t, "id-1", tick.Vehicle.ID)
	require.Equal(t, "id-6", tick.Emergency.IncidentID)
}

func TestSimulator_TerminatesWithinBound(t *testing.T) {
	t.Parallel()

	ticks := runJourney(t, newSim(t))
	require.NotEmpty(t, ticks)
	require.LessOrEqual(t, len(ticks), 110)
}

func TestSimulator_TickSpacing(t *testing.T) {
	t.Parallel()

	ticks := runJourney(t, newSim(t))
	prev := start
	for _, tick := range ticks {
		delta := tick.Vehicle.Timestamp.Sub(prev)
		require.GreaterOrEqual(t, delta, 30*time.Second)
		require.LessOrEqual(t, delta, 60*time.Second)
		prev = tick.Vehicle.Timestamp
	}
}

func TestSimulator_SiblingsCorrelated(t *testing.T) {
	t.Parallel()

	for _, tick := range runJourney(t, newSim(t)) {
		ts := tick.Vehicle.Timestamp
		loc := tick.Vehicle.Location.String()

		require.Equal(t, ts, tick.GPS.Timestamp)
		require.Equal(t, ts, tick.Traffic.Timestamp)
		require.Equal(t, ts, tick.Weather.Timestamp)
		require.Equal(t, ts, tick.Emergency.Timestamp)

		require.Equal(t, loc, tick.Traffic.Location)
		require.Equal(t, loc, tick.Weather.Location)
		require.Equal(t, loc, tick.Emergency.Location)

		for _, r := range tick.Records() {
			require.NotEmpty(t, r.Key)
		}
		require.Equal(t, "vehicle-001", tick.GPS.DeviceID)
		require.Equal(t, "Nikon-Cam123", tick.Traffic.CameraID)
	}
}

func TestSimulator_FirstTickPosition(t *testing.T) {
	t.Parallel()

	s := newSim(t, simulator.WithSeed(42))
	_, tick, err := s.Advance(s.Start())
	require.NoError(t, err)
	require.Equal(t, 1, tick.Number)

	dLat := (simulator.Birmingham.Lat - simulator.London.Lat) / 100
	dLon := (simulator.Birmingham.Lon - simulator.London.Lon) / 100
	require.InDelta(t, simulator.London.Lat+dLat, tick.Vehicle.Location.Lat, 0.0005)
	require.InDelta(t, simulator.London.Lon+dLon, tick.Vehicle.Location.Lon, 0.0005)
}

func TestSimulator_FieldRanges(t *testing.T) {
	t.Parallel()

	for _, tick := range runJourney(t, newSim(t)) {
		require.GreaterOrEqual(t, tick.Vehicle.Speed, 10.0)
		require.Less(t, tick.Vehicle.Speed, 40.0)
		require.GreaterOrEqual(t, tick.GPS.Speed, 0.0)
		require.Less(t, tick.GPS.Speed, 40.0)
		require.GreaterOrEqual(t, tick.Weather.Temperature, -5.0)
		require.Less(t, tick.Weather.Temperature, 26.0)
		require.GreaterOrEqual(t, tick.Weather.Humidity, 0)
		require.LessOrEqual(t, tick.Weather.Humidity, 100)
		require.Contains(t, []string{"Sunny", "Cloudy", "Rain", "Snow"}, tick.Weather.WeatherCondition)
		require.Contains(t, []string{"Fire", "Medical", "Police", "None"}, tick.Emergency.Type)
		require.Contains(t, []string{"Active", "Resolved"}, tick.Emergency.Status)

		_, err := base64.StdEncoding.DecodeString(tick.Traffic.Snapshot)
		require.NoError(t, err)
	}
}

func TestSimulator_StateIsValue(t *testing.T) {
	t.Parallel()

	s := newSim(t)
	st := s.Start()
	before := st
	_, _, err := s.Advance(st)
	require.NoError(t, err)
	require.Equal(t, before, st)
}

func TestSimulator_TickBound(t *testing.T) {
	t.Parallel()

	s := newSim(t, simulator.WithMaxTicks(5))

	st := s.Start()
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		st, _, err = s.Advance(st)
	}
	require.ErrorIs(t, err, simulator.ErrTickBoundExceeded)
	require.Equal(t, 5, st.Tick)
}

func TestSimulator_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opt  simulator.Option
	}{
		{"zero steps", simulator.WithTotalSteps(0)},
		{"negative jitter", simulator.WithJitter(-1)},
		{"inverted tick bounds", simulator.WithTickBounds(time.Minute, time.Second)},
		{"empty device", simulator.WithDeviceID("")},
		{"zero max ticks", simulator.WithMaxTicks(0)},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				t.Parallel()
				_, err := simulator.New(tt.opt)
				require.Error(t, err)
			},
		)
	}
}
