package scan

import "github.com/iliyamo/event-checkin/internal/model"

// Resolve is the check-in state machine for one (badge, scope) pair:
//
//	OUTSIDE + check_in  -> check_in,  INSIDE
//	OUTSIDE + check_out -> no_op,     OUTSIDE
//	INSIDE  + check_in  -> no_op,     INSIDE
//	INSIDE  + check_out -> check_out, OUTSIDE
//
// A check_out can only come from INSIDE, so occupancy never goes negative.
func Resolve(p model.Presence, a model.Action) (model.Resolution, model.Presence) {
	switch {
	case p == model.Inside && a == model.ActionCheckOut:
		return model.ResolvedCheckOut, model.Outside
	case p == model.Inside:
		return model.ResolvedNoOp, model.Inside
	case a == model.ActionCheckIn:
		return model.ResolvedCheckIn, model.Inside
	default:
		return model.ResolvedNoOp, model.Outside
	}
}
