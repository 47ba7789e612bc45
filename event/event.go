package event

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindVehicle   Kind = "vehicle"
	KindGPS       Kind = "gps"
	KindTraffic   Kind = "traffic"
	KindWeather   Kind = "weather"
	KindEmergency Kind = "emergency"
)

// Kinds lists every stream in publish order
var Kinds = []Kind{KindVehicle, KindGPS, KindTraffic, KindWeather, KindEmergency}

type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// String renders the "lat,lon" form used by the non-vehicle streams
func (l Location) String() string {
	return strconv.FormatFloat(l.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(l.Lon, 'f', -1, 64)
}

// ParseLocation reads the "lat,lon" form
func ParseLocation(s string) (Location, error) {
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return Location{}, fmt.Errorf("location %q: want lat,lon", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return Location{}, fmt.Errorf("location %q: latitude: %w", s, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return Location{}, fmt.Errorf("location %q: longitude: %w", s, err)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Location{}, fmt.Errorf("location %q: out of range", s)
	}
	return Location{Lat: lat, Lon: lon}, nil
}

type VehicleEvent struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"deviceId"`
	Timestamp time.Time `json:"timestamp"`
	Location  Location  `json:"location"`
	Speed     float64   `json:"speed"`
	Direction string    `json:"direction"`
	Make      string    `json:"make"`
	Model     string    `json:"model"`
	Year      int       `json:"year"`
	FuelType  string    `json:"fuelType"`
}

type GpsEvent struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"deviceId"`
	Timestamp   time.Time `json:"timestamp"`
	Speed       float64   `json:"speed"`
	Direction   string    `json:"direction"`
	VehicleType string    `json:"vehicleType"`
}

type TrafficEvent struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"deviceId"`
	CameraID  string    `json:"cameraId"`
	Location  string    `json:"location"`
	Timestamp time.Time `json:"timestamp"`
	Snapshot  string    `json:"snapshot"`
}

type WeatherEvent struct {
	ID               string    `json:"id"`
	DeviceID         string    `json:"deviceId"`
	Location         string    `json:"location"`
	Timestamp        time.Time `json:"timestamp"`
	Temperature      float64   `json:"temperature"`
	WeatherCondition string    `json:"weatherCondition"`
	Precipitation    float64   `json:"precipitation"`
	WindSpeed        float64   `json:"windSpeed"`
	Humidity         int       `json:"humidity"`
	AirQualityIndex  float64   `json:"airQualityIndex"`
}

type EmergencyEvent struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"deviceId"`
	IncidentID  string    `json:"incidentId"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Location    string    `json:"location"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
}

// Tick is the set of correlated siblings produced by one simulation step.
// Every member carries the same device, timestamp and position.
type Tick struct {
	Number    int
	Vehicle   VehicleEvent
	GPS       GpsEvent
	Traffic   TrafficEvent
	Weather   WeatherEvent
	Emergency EmergencyEvent
}

// Keyed pairs a record with its stream and broker key
type Keyed struct {
	Kind  Kind
	Key   string
	Value any
}

// Records returns the tick's members in publish order
func (t Tick) Records() []Keyed {
	return []Keyed{
		{Kind: KindVehicle, Key: t.Vehicle.ID, Value: t.Vehicle},
		{Kind: KindGPS, Key: t.GPS.ID, Value: t.GPS},
		{Kind: KindTraffic, Key: t.Traffic.ID, Value: t.Traffic},
		{Kind: KindWeather, Key: t.Weather.ID, Value: t.Weather},
		{Kind: KindEmergency, Key: t.Emergency.ID, Value: t.Emergency},
	}
}
