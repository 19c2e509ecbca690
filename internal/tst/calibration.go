package tst

import "sort"

// calibration converts between raw and engineering values with piecewise
// linear interpolation, clamped at the table ends. An empty table is the
// identity.
type calibration struct {
	table   []CalPoint // as configured
	forward []CalPoint // sorted by Raw
	inverse []CalPoint // sorted by Eng
}

func newCalibration(points []CalPoint) calibration {
	if len(points) == 0 {
		return calibration{}
	}
	fwd := append([]CalPoint(nil), points...)
	sort.SliceStable(fwd, func(i, j int) bool { return fwd[i].Raw < fwd[j].Raw })
	inv := append([]CalPoint(nil), points...)
	sort.SliceStable(inv, func(i, j int) bool { return inv[i].Eng < inv[j].Eng })
	return calibration{table: append([]CalPoint(nil), points...), forward: fwd, inverse: inv}
}

// points returns the table in its configured order. An empty table is
// returned as an empty, non-nil slice.
func (c calibration) points() []CalPoint {
	return append([]CalPoint{}, c.table...)
}

func (c calibration) toEng(raw float64) float64 {
	if len(c.forward) == 0 {
		return raw
	}
	return interp(raw, c.forward, func(p CalPoint) (float64, float64) { return p.Raw, p.Eng })
}

func (c calibration) toRaw(eng float64) float64 {
	if len(c.inverse) == 0 {
		return eng
	}
	return interp(eng, c.inverse, func(p CalPoint) (float64, float64) { return p.Eng, p.Raw })
}

// Interp evaluates the calibration table at raw, the same way analog inputs
// derive their engineering value.
func Interp(raw float64, table []CalPoint) float64 {
	return newCalibration(table).toEng(raw)
}

func interp(x float64, table []CalPoint, xy func(CalPoint) (float64, float64)) float64 {
	x0, y0 := xy(table[0])
	if x <= x0 {
		return y0
	}
	xn, yn := xy(table[len(table)-1])
	if x >= xn {
		return yn
	}
	i := sort.Search(len(table), func(i int) bool {
		xi, _ := xy(table[i])
		return xi >= x
	})
	xa, ya := xy(table[i-1])
	xb, yb := xy(table[i])
	if xb == xa {
		return yb
	}
	return ya + (x-xa)*(yb-ya)/(xb-xa)
}
