package upstream

// ArrivalRecord is one predicted arrival exactly as the upstream feed
// reports it. Times and flags stay raw strings here; the transittime and
// shape packages own their interpretation.
type ArrivalRecord struct {
	StationID       string `json:"staId"`
	StopID          string `json:"stpId"`
	StationName     string `json:"staNm"`
	StopDescription string `json:"stpDe"`
	Route           string `json:"rt"`
	Destination     string `json:"destNm"`
	ArrivalTime     string `json:"arrT"`
	PredictionTime  string `json:"prdt"`
	IsApproaching   string `json:"isApp"`
	IsDelayed       string `json:"isDly"`
	IsScheduleOnly  string `json:"isSch"`
}

// Flag interprets the upstream's boolean-as-string convention.
func Flag(s string) bool {
	return s == "1" || s == "true"
}

// envelope is the upstream response wrapper. The error code is embedded in
// the body and must be checked even on HTTP 200.
type envelope struct {
	Payload struct {
		Timestamp string          `json:"tmst"`
		ErrorCode string          `json:"errCd"`
		ErrorName *string         `json:"errNm"`
		Arrivals  []ArrivalRecord `json:"eta"`
	} `json:"ctatt"`
}
