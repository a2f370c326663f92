package automation

import (
	"math"
	"time"
)

// zenith is the official sunrise/sunset zenith in degrees, accounting for
// refraction and the solar disc.
const zenith = 90.833

// maxSolarSearchDays bounds the search for the next sunrise or sunset. At
// high latitudes the sun may not rise or set for months.
const maxSolarSearchDays = 190

// SolarTime returns the UTC time of sunrise (rising) or sunset on the
// calendar day of date at the given coordinates. ok is false when the sun
// does not rise or set that day.
func SolarTime(date time.Time, latitude, longitude float64, rising bool) (time.Time, bool) {
	n := float64(date.YearDay())
	lngHour := longitude / 15

	var t float64
	if rising {
		t = n + (6-lngHour)/24
	} else {
		t = n + (18-lngHour)/24
	}

	// Sun's mean anomaly and true longitude.
	m := 0.9856*t - 3.289
	l := normalizeDegrees(m + 1.916*sinDeg(m) + 0.020*sinDeg(2*m) + 282.634)

	// Right ascension, in the same quadrant as l, converted to hours.
	ra := normalizeDegrees(radToDeg(math.Atan(0.91764 * tanDeg(l))))
	ra += math.Floor(l/90)*90 - math.Floor(ra/90)*90
	ra /= 15

	sinDec := 0.39782 * sinDeg(l)
	cosDec := math.Cos(math.Asin(sinDec))

	cosH := (cosDeg(zenith) - sinDec*sinDeg(latitude)) / (cosDec * cosDeg(latitude))
	if cosH > 1 || cosH < -1 {
		return time.Time{}, false
	}

	var h float64
	if rising {
		h = 360 - radToDeg(math.Acos(cosH))
	} else {
		h = radToDeg(math.Acos(cosH))
	}
	h /= 15

	localMean := h + ra - 0.06571*t - 6.622
	ut := math.Mod(localMean-lngHour, 24)
	if ut < 0 {
		ut += 24
	}

	y, mo, d := date.Date()
	midnight := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	return midnight.Add(time.Duration(ut * float64(time.Hour))).Truncate(time.Second), true
}

// NextSolarEvent returns the first sunrise or sunset, shifted by offset,
// strictly after now. Days are taken in loc. ok is false when none occurs
// within the search window.
func NextSolarEvent(now time.Time, loc *time.Location, latitude, longitude float64, event string, offset time.Duration) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	rising := event == SolarSunrise
	local := now.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 12, 0, 0, 0, loc)

	for i := -1; i <= maxSolarSearchDays; i++ {
		at, ok := SolarTime(day.AddDate(0, 0, i), latitude, longitude, rising)
		if !ok {
			continue
		}
		at = at.Add(offset)
		if at.After(now) {
			return at.In(loc), true
		}
	}
	return time.Time{}, false
}

func normalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

func degToRad(d float64) float64 { return d * math.Pi / 180 }
func radToDeg(r float64) float64 { return r * 180 / math.Pi }
func sinDeg(d float64) float64   { return math.Sin(degToRad(d)) }
func cosDeg(d float64) float64   { return math.Cos(degToRad(d)) }
func tanDeg(d float64) float64   { return math.Tan(degToRad(d)) }
