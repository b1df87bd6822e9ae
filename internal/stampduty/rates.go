package stampduty

// Rates is a state's fee schedule in basis points of the applicable value
type Rates struct {
	StampDutyBP    int64
	RegistrationBP int64
	SurchargeBP    int64
}

// FallbackRates applies to states without a published schedule
var FallbackRates = Rates{StampDutyBP: 500, RegistrationBP: 100}

// DefaultRates are the statutory schedules used when the ledger carries no override
var DefaultRates = map[string]Rates{
	"AP": {StampDutyBP: 500, RegistrationBP: 50},
	"MH": {StampDutyBP: 600, RegistrationBP: 100, SurchargeBP: 100},
	"KA": {StampDutyBP: 560, RegistrationBP: 100},
	"DL": {StampDutyBP: 600, RegistrationBP: 100},
	"TG": {StampDutyBP: 500, RegistrationBP: 50, SurchargeBP: 100},
	"TN": {StampDutyBP: 700, RegistrationBP: 100},
	"UP": {StampDutyBP: 500, RegistrationBP: 100},
	"RJ": {StampDutyBP: 500, RegistrationBP: 100},
	"GJ": {StampDutyBP: 490, RegistrationBP: 100},
	"WB": {StampDutyBP: 600, RegistrationBP: 100, SurchargeBP: 200},
	"MP": {StampDutyBP: 750, RegistrationBP: 100},
	"HR": {StampDutyBP: 500, RegistrationBP: 100, SurchargeBP: 200},
	"PB": {StampDutyBP: 600, RegistrationBP: 100},
	"KL": {StampDutyBP: 800, RegistrationBP: 200},
	"BR": {StampDutyBP: 600, RegistrationBP: 200},
	"JH": {StampDutyBP: 400, RegistrationBP: 300},
	"CT": {StampDutyBP: 500, RegistrationBP: 100},
	"OR": {StampDutyBP: 500, RegistrationBP: 100},
	"GA": {StampDutyBP: 350, RegistrationBP: 100},
}

// DefaultRatesFor returns the statutory schedule of a state
func DefaultRatesFor(stateCode string) Rates {
	if r, ok := DefaultRates[stateCode]; ok {
		return r
	}
	return FallbackRates
}
