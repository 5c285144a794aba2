// Package models defines the display-ready response shapes served to
// clients. These are the stable contract; upstream wire shapes live in the
// upstream package and never leak past the shaper.
package models

// Arrival is one predicted train arrival at a platform.
type Arrival struct {
	Route          string `json:"route"`
	Destination    string `json:"destination"`
	ArrivalTime    string `json:"arrivalTime"`
	PredictionTime string `json:"predictionTime,omitempty"`
	IsApproaching  bool   `json:"isApproaching"`
	IsDelayed      bool   `json:"isDelayed"`
	IsScheduleOnly bool   `json:"isScheduleOnly"`
}

// StopGroup aggregates the next arrivals for one platform, sorted by
// predicted time ascending and truncated upstream of serialization.
type StopGroup struct {
	StopID   string    `json:"stopId"`
	Name     string    `json:"name"`
	Route    string    `json:"route"`
	Arrivals []Arrival `json:"arrivals"`
}

// StationGroup aggregates a station's platforms in first-seen order.
type StationGroup struct {
	StationID string      `json:"stationId"`
	Name      string      `json:"name"`
	Stops     []StopGroup `json:"stops"`
}

// ArrivalsPayload is the cached unit: either the station-level or the
// stop-level form of a shaped response, depending on query granularity.
type ArrivalsPayload struct {
	Stations []StationGroup `json:"stations,omitempty"`
	Stop     *StopGroup     `json:"stop,omitempty"`
}
