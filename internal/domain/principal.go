package domain

// Principal carries the authenticated caller's identity. It is populated once
// at the request boundary and passed explicitly into service calls; services
// never reach back into transport-level state.
type Principal struct {
	UserID int64
}
