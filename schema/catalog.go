package schema

import (
	"fmt"

	"github.com/hugolhafner/smartcity/event"
)

func nullable(name string, t FieldType) Field {
	return Field{Name: name, Type: t, Nullable: true}
}

// event time drives the watermark, so it is the one required field
var eventTime = Field{Name: EventTimeField, Type: TypeTimestamp}

var (
	Vehicle = Schema{
		Kind: event.KindVehicle,
		Fields: []Field{
			nullable("id", TypeString),
			nullable("deviceId", TypeString),
			eventTime,
			nullable("location", TypeLocation),
			nullable("speed", TypeFloat),
			nullable("direction", TypeString),
			nullable("make", TypeString),
			nullable("model", TypeString),
			nullable("year", TypeInt),
			nullable("fuelType", TypeString),
		},
	}

	GPS = Schema{
		Kind: event.KindGPS,
		Fields: []Field{
			nullable("id", TypeString),
			nullable("deviceId", TypeString),
			eventTime,
			nullable("speed", TypeFloat),
			nullable("direction", TypeString),
			nullable("vehicleType", TypeString),
		},
	}

	Traffic = Schema{
		Kind: event.KindTraffic,
		Fields: []Field{
			nullable("id", TypeString),
			nullable("deviceId", TypeString),
			nullable("cameraId", TypeString),
			nullable("location", TypeString),
			eventTime,
			nullable("snapshot", TypeBase64),
		},
	}

	Weather = Schema{
		Kind: event.KindWeather,
		Fields: []Field{
			nullable("id", TypeString),
			nullable("deviceId", TypeString),
			nullable("location", TypeString),
			eventTime,
			nullable("temperature", TypeFloat),
			nullable("weatherCondition", TypeString),
			nullable("precipitation", TypeFloat),
			nullable("windSpeed", TypeFloat),
			nullable("humidity", TypeInt),
			nullable("airQualityIndex", TypeFloat),
		},
	}

	Emergency = Schema{
		Kind: event.KindEmergency,
		Fields: []Field{
			nullable("id", TypeString),
			nullable("deviceId", TypeString),
			nullable("incidentId", TypeString),
			nullable("type", TypeString),
			eventTime,
			nullable("location", TypeString),
			nullable("status", TypeString),
			nullable("description", TypeString),
		},
	}
)

// Catalog resolves the schema for a broker topic
type Catalog struct {
	byTopic map[string]Schema
}

func ForKind(k event.Kind) (Schema, bool) {
	switch k {
	case event.KindVehicle:
		return Vehicle, true
	case event.KindGPS:
		return GPS, true
	case event.KindTraffic:
		return Traffic, true
	case event.KindWeather:
		return Weather, true
	case event.KindEmergency:
		return Emergency, true
	default:
		return Schema{}, false
	}
}

func NewCatalog(topics event.Topics) (*Catalog, error) {
	if err := topics.Validate(); err != nil {
		return nil, err
	}

	c := &Catalog{byTopic: make(map[string]Schema, len(event.Kinds))}
	for _, k := range event.Kinds {
		s, _ := ForKind(k)
		c.byTopic[topics.For(k)] = s
	}
	return c, nil
}

func (c *Catalog) Lookup(topic string) (Schema, error) {
	s, ok := c.byTopic[topic]
	if !ok {
		return Schema{}, fmt.Errorf("no schema registered for topic %q", topic)
	}
	return s, nil
}
