package enum

import "fmt"

// ReservationStatus is the reservation lifecycle state. Active is the only
// non-terminal state; every other status is final.
type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "active"
	ReservationStatusFulfilled ReservationStatus = "fulfilled"
	ReservationStatusReleased  ReservationStatus = "released"
	ReservationStatusExpired   ReservationStatus = "expired"
)

// Terminal reports whether no further transition is allowed.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationStatusFulfilled || s == ReservationStatusReleased || s == ReservationStatusExpired
}

func ParseReservationStatus(v string) (ReservationStatus, error) {
	switch ReservationStatus(v) {
	case ReservationStatusActive, ReservationStatusFulfilled, ReservationStatusReleased, ReservationStatusExpired:
		return ReservationStatus(v), nil
	default:
		return "", fmt.Errorf("invalid reservation status %q", v)
	}
}
