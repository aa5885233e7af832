// Package units converts sky-model brightness values into the flux density
// units the simulator expects.
//
// Images in kelvin are rescaled to Jy/pixel with the Rayleigh-Jeans
// approximation:
//
//	S = 1e26 * 2 k ν² / c² * Ω * T
//
// where Ω is the solid angle a pixel represents. Images already in
// Jy/pixel pass through unchanged.
package units

import (
	"fmt"
	"math"
	"strings"
)

const (
	// Boltzmann is the Boltzmann constant in J/K.
	Boltzmann = 1.380649e-23

	// SpeedOfLight is the speed of light in m/s.
	SpeedOfLight = 299792458.0

	// JanskyPerSI is the number of janskys in one W m^-2 Hz^-1.
	JanskyPerSI = 1e26

	// ArcsecPerRadian is the fixed conversion used for every angle handed
	// to the simulator.
	ArcsecPerRadian = 206265.0

	// JyPerPixel is the brightness unit that needs no conversion.
	JyPerPixel = "Jy/pixel"
)

// SolidAngle selects how a pixel scale maps to the solid angle in the
// Rayleigh-Jeans conversion.
type SolidAngle string

const (
	// SolidAngleGaussian treats the pixel scale as the FWHM of a Gaussian
	// beam: Ω = π/(4 ln 2) Δθ², which gives the 2.266 leading constant.
	SolidAngleGaussian SolidAngle = "gaussian"

	// SolidAnglePixel uses the square pixel itself: Ω = Δθ².
	SolidAnglePixel SolidAngle = "pixel"
)

// gaussianArea is π/(4 ln 2), the area of a unit-FWHM Gaussian.
var gaussianArea = math.Pi / (4 * math.Ln2)

// ParseSolidAngle maps a configuration string onto a SolidAngle. The empty
// string selects the Gaussian form.
func ParseSolidAngle(s string) (SolidAngle, error) {
	switch SolidAngle(strings.ToLower(strings.TrimSpace(s))) {
	case "", SolidAngleGaussian:
		return SolidAngleGaussian, nil
	case SolidAnglePixel:
		return SolidAnglePixel, nil
	default:
		return "", fmt.Errorf("unknown solid angle kernel %q (valid: gaussian, pixel)", s)
	}
}

// Coefficient returns the dimensionless factor multiplying k Δθ² ν² / c²
// (before the jansky scaling) for this kernel.
func (s SolidAngle) Coefficient() float64 {
	if s == SolidAnglePixel {
		return 2
	}
	return 2 * gaussianArea
}

// IsJyPerPixel reports whether unit already is Jy/pixel. The comparison
// ignores case and surrounding whitespace.
func IsJyPerPixel(unit string) bool {
	return strings.EqualFold(strings.TrimSpace(unit), JyPerPixel)
}

// ConversionFactor returns the multiplier that turns a peak value in unit
// into Jy/pixel. For Jy/pixel images it is exactly 1. Every other unit is
// treated as a brightness temperature in kelvin.
//
// pixelScale is in radians and restFreq in Hz. Neither is validated.
func ConversionFactor(unit string, pixelScale, restFreq float64, kernel SolidAngle) float64 {
	if IsJyPerPixel(unit) {
		return 1
	}
	return JanskyPerSI * kernel.Coefficient() * Boltzmann *
		pixelScale * pixelScale * restFreq * restFreq /
		(SpeedOfLight * SpeedOfLight)
}

// PeakFlux applies a conversion factor to a peak image value.
func PeakFlux(peak, factor float64) float64 {
	return peak * factor
}

// RadiansToArcsec converts an angle using ArcsecPerRadian.
func RadiansToArcsec(rad float64) float64 {
	return rad * ArcsecPerRadian
}
