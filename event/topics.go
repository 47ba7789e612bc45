package event

import "fmt"

// Topics maps each stream to its broker topic
type Topics struct {
	Vehicle   string `mapstructure:"vehicle"`
	GPS       string `mapstructure:"gps"`
	Traffic   string `mapstructure:"traffic"`
	Weather   string `mapstructure:"weather"`
	Emergency string `mapstructure:"emergency"`
}

func DefaultTopics() Topics {
	return Topics{
		Vehicle:   "vehicle_data",
		GPS:       "gps_data",
		Traffic:   "traffic_data",
		Weather:   "weather_data",
		Emergency: "emergency_data",
	}
}

func (t Topics) For(k Kind) string {
	switch k {
	case KindVehicle:
		return t.Vehicle
	case KindGPS:
		return t.GPS
	case KindTraffic:
		return t.Traffic
	case KindWeather:
		return t.Weather
	case KindEmergency:
		return t.Emergency
	default:
		return ""
	}
}

// All returns topics in publish order
func (t Topics) All() []string {
	out := make([]string, 0, len(Kinds))
	for _, k := range Kinds {
		out = append(out, t.For(k))
	}
	return out
}

func (t Topics) Validate() error {
	seen := make(map[string]Kind, len(Kinds))
	for _, k := range Kinds {
		name := t.For(k)
		if name == "" {
			return fmt.Errorf("topic for %s stream is empty", k)
		}
		if other, ok := seen[name]; ok {
			return fmt.Errorf("topic %q used by both %s and %s streams", name, other, k)
		}
		seen[name] = k
	}
	return nil
}
