package listener

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/RideTrack/internal/models"
)

// payload is a loosely typed view of a socket event body. The socket server
// is not consistent about field names, so lookups try several spellings.
type payload map[string]json.RawMessage

func parsePayload(raw json.RawMessage) payload {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		// some events carry just the booking id as a bare string
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return payload{"bookingId": mustRaw(s)}
		}
		return nil
	}
	return p
}

func mustRaw(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func (p payload) object(key string) payload {
	raw, ok := p[key]
	if !ok {
		return nil
	}
	var out payload
	if json.Unmarshal(raw, &out) != nil {
		return nil
	}
	return out
}

// str returns the value of the first present key as a string. Numbers are
// formatted, objects are skipped.
func (p payload) str(keys ...string) string {
	for _, k := range keys {
		raw, ok := p[k]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		var n json.Number
		if json.Unmarshal(raw, &n) == nil {
			return n.String()
		}
	}
	return ""
}

var idKeys = []string{"parcel", "parcelId", "rideId", "ride_id", "bookingId", "booking_id"}

// bookingID finds the booking the event is about.
func (p payload) bookingID() string {
	if p == nil {
		return ""
	}
	if id := p.str(idKeys...); id != "" {
		return id
	}
	for _, k := range []string{"parcel", "rideDetails", "data", "ride"} {
		if nested := p.object(k); nested != nil {
			if id := nested.str("_id", "id"); id != "" {
				return id
			}
			if id := nested.str(idKeys...); id != "" {
				return id
			}
		}
	}
	return ""
}

func (p payload) message() string {
	if m := p.str("message", "msg", "error"); m != "" {
		return m
	}
	if d := p.object("data"); d != nil {
		return d.str("message")
	}
	return ""
}

func (p payload) status() string {
	if s := p.str("status", "ride_status", "parcel_status"); s != "" {
		return s
	}
	for _, k := range []string{"data", "rideDetails", "parcel"} {
		if nested := p.object(k); nested != nil {
			if s := nested.str("status", "ride_status"); s != "" {
				return s
			}
		}
	}
	return ""
}

func (p payload) otp() *string {
	for _, src := range []payload{p, p.object("rideDetails"), p.object("data"), p.object("parcel")} {
		if src == nil {
			continue
		}
		if s := src.str("ride_otp", "otp", "RideOtp"); s != "" {
			return &s
		}
	}
	return nil
}

func (p payload) agent() *models.Agent {
	candidates := []payload{p.object("driver"), p.object("rider"), p.object("riderDetails")}
	for _, k := range []string{"rideDetails", "data", "parcel"} {
		if nested := p.object(k); nested != nil {
			candidates = append(candidates, nested.object("driver"), nested.object("rider"))
		}
	}
	for _, a := range candidates {
		if a == nil {
			continue
		}
		id := a.str("_id", "id")
		name := a.str("name")
		if id == "" && name == "" {
			continue
		}
		out := &models.Agent{ID: id, Name: name, Phone: a.str("phone", "number")}
		if v := a.object("rideVehicleInfo"); v != nil {
			out.Vehicle = strings.TrimSpace(v.str("vehicleName") + " " + v.str("VehicleNumber"))
		}
		return out
	}
	return nil
}

// location accepts GeoJSON points ([lng, lat]), bare coordinate pairs and
// plain lat/lng objects.
func (p payload) location() *models.Point {
	for _, k := range []string{"location", "coords", "driverLocation"} {
		if pt := pair(p[k]); pt != nil {
			return pt
		}
		if loc := p.object(k); loc != nil {
			if pt := loc.point(); pt != nil {
				return pt
			}
		}
	}
	return p.point()
}

func (p payload) point() *models.Point {
	if pt := pair(p["coordinates"]); pt != nil {
		return pt
	}
	lat, okLat := p.float("latitude", "lat")
	lng, okLng := p.float("longitude", "lng", "lon")
	if okLat && okLng {
		return &models.Point{Lat: lat, Lng: lng}
	}
	return nil
}

// pair reads a [lng, lat] array.
func pair(raw json.RawMessage) *models.Point {
	if len(raw) == 0 {
		return nil
	}
	var c []float64
	if json.Unmarshal(raw, &c) != nil || len(c) < 2 {
		return nil
	}
	return &models.Point{Lat: c[1], Lng: c[0]}
}

func (p payload) float(keys ...string) (float64, bool) {
	for _, k := range keys {
		raw, ok := p[k]
		if !ok {
			continue
		}
		var f float64
		if json.Unmarshal(raw, &f) == nil {
			return f, true
		}
		var s string
		if json.Unmarshal(raw, &s) == nil {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// timestamp reads a server timestamp (RFC 3339 or unix millis).
func (p payload) timestamp() (time.Time, bool) {
	s := p.str("timestamp", "updatedAt", "at")
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}
