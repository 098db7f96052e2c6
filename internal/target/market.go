package target

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// MarketConfig holds the surge pricing parameters.
type MarketConfig struct {
	BaseFare float64

	// MinDrivers is the supply below which a geofence surges even without
	// demand.
	MinDrivers int

	BaseSurge float64
	MaxSurge  float64

	// MaxSurgeJump bounds how far the multiplier of one geofence moves
	// between two quotes.
	MaxSurgeJump float64

	// Freshness is how long a driver position or a price request counts
	// towards supply and demand.
	Freshness time.Duration

	// CellSize is the geofence edge in degrees.
	CellSize float64
}

// DefaultMarketConfig returns the reference surge parameters.
func DefaultMarketConfig() MarketConfig {
	return MarketConfig{
		BaseFare:     10.0,
		MinDrivers:   5,
		BaseSurge:    1.0,
		MaxSurge:     3.0,
		MaxSurgeJump: 0.2,
		Freshness:    30 * time.Second,
		CellSize:     0.005,
	}
}

// Quote is a priced geofence.
type Quote struct {
	BaseFare        float64 `json:"baseFare"`
	SurgeMultiplier float64 `json:"surgeMultiplier"`
	FinalPrice      float64 `json:"finalPrice"`
	GeofenceID      string  `json:"geofenceId"`
}

// Availability describes supply and demand of one geofence.
type Availability struct {
	GeofenceID    string `json:"geofenceId"`
	NearbyDrivers int    `json:"nearbyDrivers"`
	Demand        int    `json:"demand"`
}

type geofence struct {
	drivers map[string]time.Time
	demand  []time.Time
	surge   float64
}

// Market is an in-memory view of driver supply and rider demand per
// geofence. It is safe for concurrent use.
type Market struct {
	cfg MarketConfig
	now func() time.Time

	mu    sync.Mutex
	cells map[string]*geofence
}

// NewMarket creates an empty market.
func NewMarket(cfg MarketConfig) *Market {
	def := DefaultMarketConfig()
	if cfg.BaseFare <= 0 {
		cfg.BaseFare = def.BaseFare
	}
	if cfg.MinDrivers <= 0 {
		cfg.MinDrivers = def.MinDrivers
	}
	if cfg.BaseSurge <= 0 {
		cfg.BaseSurge = def.BaseSurge
	}
	if cfg.MaxSurge < cfg.BaseSurge {
		cfg.MaxSurge = math.Max(def.MaxSurge, cfg.BaseSurge)
	}
	if cfg.MaxSurgeJump <= 0 {
		cfg.MaxSurgeJump = def.MaxSurgeJump
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = def.Freshness
	}
	if cfg.CellSize <= 0 {
		cfg.CellSize = def.CellSize
	}
	return &Market{
		cfg:   cfg,
		now:   time.Now,
		cells: make(map[string]*geofence),
	}
}

// GeofenceID maps a coordinate to its grid cell.
func (m *Market) GeofenceID(lat, lng float64) string {
	return fmt.Sprintf("gf_%d_%d",
		int64(math.Floor(lat/m.cfg.CellSize)),
		int64(math.Floor(lng/m.cfg.CellSize)))
}

func (m *Market) cellLocked(id string) *geofence {
	g, ok := m.cells[id]
	if !ok {
		g = &geofence{drivers: make(map[string]time.Time), surge: m.cfg.BaseSurge}
		m.cells[id] = g
	}
	return g
}

func (m *Market) pruneLocked(g *geofence, now time.Time) {
	cutoff := now.Add(-m.cfg.Freshness)
	for id, seen := range g.drivers {
		if seen.Before(cutoff) {
			delete(g.drivers, id)
		}
	}
	i := 0
	for i < len(g.demand) && g.demand[i].Before(cutoff) {
		i++
	}
	g.demand = g.demand[i:]
}

// UpdateDriver records a driver position and returns its geofence.
func (m *Market) UpdateDriver(driverID string, lat, lng float64) string {
	id := m.GeofenceID(lat, lng)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	// A driver is only counted in the geofence it reported last.
	for cid, g := range m.cells {
		if cid != id {
			delete(g.drivers, driverID)
		}
	}
	g := m.cellLocked(id)
	g.drivers[driverID] = now
	m.pruneLocked(g, now)
	return id
}

// Quote prices a ride starting at lat/lng and counts it as demand.
func (m *Market) Quote(lat, lng float64) Quote {
	id := m.GeofenceID(lat, lng)
	now := m.now()

	m.mu.Lock()
	g := m.cellLocked(id)
	m.pruneLocked(g, now)
	g.demand = append(g.demand, now)
	g.surge = m.nextSurge(g.surge, len(g.demand), len(g.drivers))
	surge := g.surge
	m.mu.Unlock()

	return Quote{
		BaseFare:        m.cfg.BaseFare,
		SurgeMultiplier: surge,
		FinalPrice:      math.Round(m.cfg.BaseFare*surge*100) / 100,
		GeofenceID:      id,
	}
}

// Availability reports the current supply and demand of a geofence.
func (m *Market) Availability(lat, lng float64) Availability {
	id := m.GeofenceID(lat, lng)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.cellLocked(id)
	m.pruneLocked(g, now)
	return Availability{
		GeofenceID:    id,
		NearbyDrivers: len(g.drivers),
		Demand:        len(g.demand),
	}
}

// nextSurge moves the multiplier towards the demand/supply target, at most
// MaxSurgeJump per call. Supply below MinDrivers counts as MinDrivers so
// sparse geofences do not spike on a single request.
func (m *Market) nextSurge(current float64, demand, drivers int) float64 {
	supply := drivers
	if supply < m.cfg.MinDrivers {
		supply = m.cfg.MinDrivers
	}
	target := m.cfg.BaseSurge * float64(demand) / float64(supply)
	target = math.Min(math.Max(target, m.cfg.BaseSurge), m.cfg.MaxSurge)

	delta := target - current
	if delta > m.cfg.MaxSurgeJump {
		delta = m.cfg.MaxSurgeJump
	} else if delta < -m.cfg.MaxSurgeJump {
		delta = -m.cfg.MaxSurgeJump
	}
	return math.Round((current+delta)*100) / 100
}
