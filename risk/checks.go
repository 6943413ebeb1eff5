package risk

import "fmt"

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Reason joins the violation messages for error text.
func (d Decision) Reason() string {
	s := ""
	for i, v := range d.Violations {
		if i > 0 {
			s += "; "
		}
		s += v.Msg
	}
	return s
}

// Evaluate is the pre-trade check run before a position is opened.
func Evaluate(p Policy, intent Intent, exp Exposure) Decision {
	d := Decision{Allowed: true}

	if !intent.Notional.IsPositive() {
		d.add("NO_NOTIONAL", "position notional must be positive")
		return d
	}

	if p.MaxOpenPositions > 0 && exp.OpenPositions+1 > p.MaxOpenPositions {
		d.add("TOO_MANY_POSITIONS",
			fmt.Sprintf("open positions %d would exceed max %d", exp.OpenPositions+1, p.MaxOpenPositions))
	}

	if p.MaxPositionNotional.IsPositive() && intent.Notional.GreaterThan(p.MaxPositionNotional) {
		d.add("POSITION_TOO_LARGE",
			fmt.Sprintf("%s notional %s exceeds max %s", intent.Symbol, intent.Notional, p.MaxPositionNotional))
	}

	after := exp.Notional.Add(intent.Notional)
	if p.MaxAccountNotional.IsPositive() && after.GreaterThan(p.MaxAccountNotional) {
		d.add("ACCOUNT_TOO_LARGE",
			fmt.Sprintf("account notional %s would exceed max %s", after, p.MaxAccountNotional))
	}

	return d
}

// CheckExposure is the sweep-time check on an account whose notional has
// grown with the mark price.
func CheckExposure(p Policy, exp Exposure) Decision {
	d := Decision{Allowed: true}
	if p.MaxAccountNotional.IsPositive() && exp.Notional.GreaterThan(p.MaxAccountNotional) {
		d.add("ACCOUNT_TOO_LARGE",
			fmt.Sprintf("account notional %s exceeds max %s", exp.Notional, p.MaxAccountNotional))
	}
	return d
}
