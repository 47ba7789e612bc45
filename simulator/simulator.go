package simulator

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/hugolhafner/smartcity/event"
)

var (
	// ErrArrived is returned by Advance when the journey has reached its destination
	ErrArrived           = errors.New("destination reached")
	ErrTickBoundExceeded = errors.New("tick bound exceeded before reaching destination")
)

var (
	weatherConditions = []string{"Sunny", "Cloudy", "Rain", "Snow"}
	incidentTypes     = []string{"Fire", "Medical", "Police", "None"}
	incidentStatuses  = []string{"Active", "Resolved"}
)

// JourneyState is the vehicle's clock and position. It is a value: Advance
// returns the next state and never mutates its argument.
type JourneyState struct {
	CurrentTime time.Time
	Position    event.Location
	Origin      event.Location
	Destination event.Location
	Tick        int
}

// Simulator derives correlated ticks from a JourneyState. Positions, clock and
// field values come from one seeded generator so a run is reproducible; event ids
// come from Config.NewID and are unique per run.
type Simulator struct {
	config Config
	rng    *rand.Rand
}

func New(opts ...Option) (*Simulator, error) {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	return NewWithConfig(config)
}

func NewWithConfig(config Config) (*Simulator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulator config: %w", err)
	}

	var seed [32]byte
	binary.LittleEndian.PutUint64(seed[:8], config.Seed)
	if config.NewID == nil {
		config.NewID = uuid.NewString
	}

	return &Simulator{
		config: config,
		rng:    rand.New(rand.NewChaCha8(seed)),
	}, nil
}

func (s *Simulator) Config() Config {
	return s.config
}

// Start returns the state at the origin before any tick
func (s *Simulator) Start() JourneyState {
	return JourneyState{
		CurrentTime: s.config.StartTime,
		Position:    s.config.Origin,
		Origin:      s.config.Origin,
		Destination: s.config.Destination,
	}
}

// Advance moves the vehicle one step toward the destination and advances the clock.
// When the moved position satisfies the arrival predicate it returns ErrArrived and
// no tick.
func (s *Simulator) Advance(st JourneyState) (JourneyState, event.Tick, error) {
	if st.Tick >= s.config.MaxTicks {
		return st, event.Tick{}, fmt.Errorf("%w: %d ticks", ErrTickBoundExceeded, st.Tick)
	}

	steps := float64(s.config.TotalSteps)
	next := st
	next.Position.Lat += (st.Destination.Lat-st.Origin.Lat)/steps + s.uniform(-s.config.Jitter, s.config.Jitter)
	next.Position.Lon += (st.Destination.Lon-st.Origin.Lon)/steps + s.uniform(-s.config.Jitter, s.config.Jitter)
	next.CurrentTime = st.CurrentTime.Add(s.tickDuration())

	if arrived(next.Position, next.Destination) {
		return next, event.Tick{}, ErrArrived
	}

	next.Tick++
	return next, s.tick(next), nil
}

// arrived holds only because the default destination lies north and west of the
// origin; it is not a general proximity check.
func arrived(pos, dest event.Location) bool {
	return pos.Lat >= dest.Lat && pos.Lon <= dest.Lon
}

func (s *Simulator) tick(st JourneyState) event.Tick {
	ts := st.CurrentTime
	loc := st.Position
	locStr := loc.String()
	device := s.config.DeviceID

	vehicle := event.VehicleEvent{
		ID:        s.newID(),
		DeviceID:  device,
		Timestamp: ts,
		Location:  loc,
		Speed:     s.uniform(10, 40),
		Direction: "North-East",
		Make:      "BMW",
		Model:     "C500",
		Year:      2024,
		FuelType:  "Hybrid",
	}

	gps := event.GpsEvent{
		ID:          s.newID(),
		DeviceID:    device,
		Timestamp:   ts,
		Speed:       s.uniform(0, 40),
		Direction:   "North-East",
		VehicleType: "private",
	}

	traffic := event.TrafficEvent{
		ID:        s.newID(),
		DeviceID:  device,
		CameraID:  s.config.CameraID,
		Location:  locStr,
		Timestamp: ts,
		Snapshot:  snapshot(s.config.CameraID, ts),
	}

	weather := event.WeatherEvent{
		ID:               s.newID(),
		DeviceID:         device,
		Location:         locStr,
		Timestamp:        ts,
		Temperature:      s.uniform(-5, 26),
		WeatherCondition: s.choice(weatherConditions),
		Precipitation:    s.uniform(0, 25),
		WindSpeed:        s.uniform(0, 100),
		Humidity:         s.rng.IntN(101),
		AirQualityIndex:  s.uniform(0, 500),
	}

	emergency := event.EmergencyEvent{
		ID:          s.newID(),
		DeviceID:    device,
		IncidentID:  s.newID(),
		Type:        s.choice(incidentTypes),
		Timestamp:   ts,
		Location:    locStr,
		Status:      s.choice(incidentStatuses),
		Description: "Description of the incident",
	}

	return event.Tick{
		Number:    st.Tick,
		Vehicle:   vehicle,
		GPS:       gps,
		Traffic:   traffic,
		Weather:   weather,
		Emergency: emergency,
	}
}

func (s *Simulator) uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*s.rng.Float64()
}

// tickDuration is uniform over [MinTick, MaxTick] inclusive
func (s *Simulator) tickDuration() time.Duration {
	span := int64(s.config.MaxTick - s.config.MinTick)
	return s.config.MinTick + time.Duration(s.rng.Int64N(span+1))
}

func (s *Simulator) choice(options []string) string {
	return options[s.rng.IntN(len(options))]
}

func (s *Simulator) newID() string {
	return s.config.NewID()
}

func snapshot(cameraID string, ts time.Time) string {
	return base64.StdEncoding.EncodeToString([]byte(cameraID + "@" + ts.Format(time.RFC3339Nano)))
}
