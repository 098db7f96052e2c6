package executor

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Built-in exec names.
const (
	ExecPricing        = "pricing"
	ExecDriverLocation = "driver-location"
	ExecRequest        = "request"
)

// Coordinates are drawn uniformly from a 0.1 degree box over San Francisco.
const (
	baseLat    = 37.7
	baseLng    = -122.5
	coordSpan  = 0.1
	driverPool = 10000
)

// PricingLatencyBudget is the latency a price quote is checked against.
const PricingLatencyBudget = 100 * time.Millisecond

// PriceResponse is the body returned by GET /price. Pointer fields tell a
// missing field apart from a zero value.
type PriceResponse struct {
	BaseFare        *float64 `json:"baseFare"`
	SurgeMultiplier *float64 `json:"surgeMultiplier"`
	FinalPrice      *float64 `json:"finalPrice"`
	GeofenceID      string   `json:"geofenceId,omitempty"`
}

// DriverLocation is the body sent to POST /driver/location.
type DriverLocation struct {
	DriverID  string  `json:"driverId"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp int64   `json:"timestamp"`
}

// DriverLocationAck is the body returned by POST /driver/location.
type DriverLocationAck struct {
	Status string `json:"status"`
}

func randomCoordinates() (lat, lng float64) {
	return baseLat + rand.Float64()*coordSpan, baseLng + rand.Float64()*coordSpan
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// PricingRequest builds GET {base}/price?lat=..&lng=.. with random
// coordinates.
func PricingRequest(baseURL string) RequestBuilder {
	base := strings.TrimRight(baseURL, "/")
	return func() (*Request, error) {
		lat, lng := randomCoordinates()
		q := url.Values{}
		q.Set("lat", formatCoord(lat))
		q.Set("lng", formatCoord(lng))
		return &Request{
			Method: http.MethodGet,
			URL:    base + "/price?" + q.Encode(),
		}, nil
	}
}

// DriverLocationRequest builds POST {base}/driver/location with a random
// driver and position.
func DriverLocationRequest(baseURL string) RequestBuilder {
	base := strings.TrimRight(baseURL, "/")
	return func() (*Request, error) {
		lat, lng := randomCoordinates()
		body, err := json.Marshal(DriverLocation{
			DriverID:  fmt.Sprintf("driver_%d", rand.IntN(driverPool)),
			Lat:       lat,
			Lng:       lng,
			Timestamp: time.Now().UnixMilli(),
		})
		if err != nil {
			return nil, err
		}
		return &Request{
			Method: http.MethodPost,
			URL:    base + "/driver/location",
			Header: http.Header{"Content-Type": []string{"application/json"}},
			Body:   body,
		}, nil
	}
}

// DecodePrice decodes a PriceResponse.
func DecodePrice(body []byte) (any, error) {
	var p PriceResponse
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeDriverAck decodes a DriverLocationAck.
func DecodeDriverAck(body []byte) (any, error) {
	var a DriverLocationAck
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func priceField(name string, get func(*PriceResponse) *float64) Check {
	return NewCheck("has "+name, func(r *Response) bool {
		p, ok := r.Typed.(*PriceResponse)
		return ok && get(p) != nil
	})
}

// PricingChecks are the checks applied to every price quote.
func PricingChecks() []Check {
	return []Check{
		StatusIs(http.StatusOK),
		priceField("baseFare", func(p *PriceResponse) *float64 { return p.BaseFare }),
		priceField("surgeMultiplier", func(p *PriceResponse) *float64 { return p.SurgeMultiplier }),
		priceField("finalPrice", func(p *PriceResponse) *float64 { return p.FinalPrice }),
		LatencyBelow(PricingLatencyBudget),
	}
}

// DriverLocationChecks are the checks applied to every location update.
func DriverLocationChecks() []Check {
	return []Check{
		StatusIs(http.StatusAccepted),
		NewCheck("has accepted status", func(r *Response) bool {
			a, ok := r.Typed.(*DriverLocationAck)
			return ok && a.Status == "accepted"
		}),
	}
}
