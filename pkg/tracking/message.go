package tracking

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// LocationUpdate is the latest known position of one courier. On the wire it
// is the JSON body of a topic message:
//
//	{ "driverId": "...", "latitude": 1.0, "longitude": 2.0, "orderId": "..." }
//
// orderId is null or absent while the driver is idle; it decodes to "".
type LocationUpdate struct {
	DriverID  string  `json:"driverId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	OrderID   string  `json:"orderId,omitempty"`

	// ReceivedAt is assigned at decode time; it is not part of the wire
	// payload and is never used for ordering (arrival order wins).
	ReceivedAt time.Time `json:"-"`
}

// Encode serializes the update to its wire representation
func (u LocationUpdate) Encode() ([]byte, error) {
	return json.Marshal(u)
}

// DecodeLocationUpdate validates and decodes a topic message body. Anything
// that is not a JSON object carrying a non-empty string driverId and numeric
// latitude/longitude is malformed; callers drop malformed payloads
// per-message without touching prior state.
func DecodeLocationUpdate(body []byte) (LocationUpdate, error) {
	if !gjson.ValidBytes(body) {
		return LocationUpdate{}, fmt.Errorf("tracking: payload is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return LocationUpdate{}, fmt.Errorf("tracking: payload is not a JSON object")
	}

	driver := root.Get("driverId")
	if driver.Type != gjson.String || driver.Str == "" {
		return LocationUpdate{}, fmt.Errorf("tracking: missing or invalid driverId")
	}
	lat := root.Get("latitude")
	if lat.Type != gjson.Number {
		return LocationUpdate{}, fmt.Errorf("tracking: missing or invalid latitude")
	}
	lng := root.Get("longitude")
	if lng.Type != gjson.Number {
		return LocationUpdate{}, fmt.Errorf("tracking: missing or invalid longitude")
	}

	update := LocationUpdate{
		DriverID:   driver.Str,
		Latitude:   lat.Num,
		Longitude:  lng.Num,
		ReceivedAt: time.Now(),
	}
	if order := root.Get("orderId"); order.Type == gjson.String {
		update.OrderID = order.Str
	}
	return update, nil
}
