package lmt

import "math"

// J2000 orientation of the galactic frame.
const (
	ngpRA  = 192.85948
	ngpDec = 27.12825
	ncpLon = 122.93192
)

// Galactic converts ICRS right ascension and declination to galactic
// longitude and latitude. All angles are in degrees.
func Galactic(ra, dec float64) (lon, lat float64) {
	rad := math.Pi / 180
	a, d := ra*rad, dec*rad
	ag, dg := ngpRA*rad, ngpDec*rad

	sinb := math.Sin(d)*math.Sin(dg) + math.Cos(d)*math.Cos(dg)*math.Cos(a-ag)
	lat = math.Asin(sinb) / rad

	y := math.Cos(d) * math.Sin(a-ag)
	x := math.Sin(d)*math.Cos(dg) - math.Cos(d)*math.Sin(dg)*math.Cos(a-ag)
	lon = ncpLon - math.Atan2(y, x)/rad
	lon = math.Mod(lon, 360)
	if lon < 0 {
		lon += 360
	}
	return lon, lat
}
