package domain

// Strategy labels attached to alert candidates. The risk gate keys its
// cash requirement off these, so they are shared constants rather than
// free-form strings.
const (
	StrategyLongStraddle   = "Long Straddle"
	StrategyCalendarSpread = "Calendar Spread"
	StrategyBullCallSpread = "Bull Call Spread"
	StrategyCashSecuredPut = "Cash-Secured Put"
	StrategyCoveredCall    = "Covered Call"
	StrategyIronCondor     = "Iron Condor"
	StrategyBullPutSpread  = "Bull Put Spread"
	StrategyBearCallSpread = "Bear Call Spread"
	StrategyWheel          = "Wheel"
)

// RequiresCashSecurity reports whether a strategy ties up cash for a
// short put, which subjects it to the cash gate.
func RequiresCashSecurity(strategy string) bool {
	return strategy == StrategyCashSecuredPut || strategy == StrategyWheel
}
