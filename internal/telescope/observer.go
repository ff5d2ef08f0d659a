package telescope

import (
	"math"
	"time"
)

const (
	j2000 = 2451545.0

	// unixEpochJD is the Julian Date of 1970-01-01T00:00:00Z.
	unixEpochJD = 2440587.5

	// Earth rotation angle in revolutions: eraOffset + eraRate*(JD - J2000).
	eraOffset = 0.7790572732640
	eraRate   = 1.00273781191135448
)

// DefaultLSDEpoch is the UTC instant from which local sidereal days are
// counted unless a site overrides it.
var DefaultLSDEpoch = time.Date(2013, time.November, 15, 0, 0, 0, 0, time.UTC)

// Observer converts UNIX times into local sidereal coordinates.
type Observer interface {
	// UnixToLSA returns the local stellar angle in degrees, in [0, 360).
	UnixToLSA(t float64) float64
	// UnixToLSD returns the local sidereal day, a continuous count of sidereal
	// days since the observer's epoch.
	UnixToLSD(t float64) float64
}

// Site is an Observer at a fixed longitude.
type Site struct {
	Longitude float64 // degrees east
	Epoch     float64 // UNIX time at which LSD counting starts

	epochRev float64
}

// NewSite returns a site at the given longitude whose LSD count starts on the
// sidereal day containing epoch.
func NewSite(longitude float64, epoch time.Time) Site {
	s := Site{Longitude: longitude, Epoch: float64(epoch.UnixNano()) / 1e9}
	s.epochRev = math.Floor(s.localRevolutions(s.Epoch))
	return s
}

// JulianDate returns the Julian Date of a UNIX time.
func JulianDate(t float64) float64 {
	return t/86400 + unixEpochJD
}

// EarthRotationAngle returns the Earth rotation angle in degrees, in [0, 360).
func EarthRotationAngle(t float64) float64 {
	rev := eraOffset + eraRate*(JulianDate(t)-j2000)
	return 360 * (rev - math.Floor(rev))
}

func (s Site) localRevolutions(t float64) float64 {
	return eraOffset + eraRate*(JulianDate(t)-j2000) + s.Longitude/360
}

// UnixToLSA implements Observer.
func (s Site) UnixToLSA(t float64) float64 {
	rev := s.localRevolutions(t)
	return 360 * (rev - math.Floor(rev))
}

// UnixToLSD implements Observer.
func (s Site) UnixToLSD(t float64) float64 {
	return s.localRevolutions(t) - s.epochRev
}

// LSDToUnix is the inverse of UnixToLSD.
func (s Site) LSDToUnix(lsd float64) float64 {
	rev := lsd + s.epochRev - s.Longitude/360
	jd := (rev-eraOffset)/eraRate + j2000
	return (jd - unixEpochJD) * 86400
}
