package lbfgs

// Method is the kind of outer iteration.
type Method int

const (
	MethodBase Method = iota
	MethodAccelerated
)

func (m Method) String() string {
	if m == MethodAccelerated {
		return "accelerated"
	}
	return "base"
}

const (
	// recalibrationRatio forces a method whose iteration count fell this far
	// behind the other, so its rate sample does not go stale.
	recalibrationRatio = 50.0
	// baseBias: base keeps running unless its rate drops below 1/baseBias of
	// the accelerated rate.
	baseBias     = 2.0
	countEpsilon = 1e-9
)

// MethodStats holds per-method iteration counts and the most recent lower
// bound increase per second of each method. Rates are single samples, not averages.
type MethodStats struct {
	BaseIterations        int     `json:"baseIterations"`
	AcceleratedIterations int     `json:"acceleratedIterations"`
	BaseRate              float64 `json:"baseRate"`
	AcceleratedRate       float64 `json:"acceleratedRate"`
}

// ChooseMethod picks the method of the next iteration from the readiness of
// the history and the running statistics. It has no state of its own.
func ChooseMethod(ready bool, st MethodStats) (Method, string) {
	if !ready {
		return MethodBase, "collecting curvature pairs"
	}

	base, accel := float64(st.BaseIterations), float64(st.AcceleratedIterations)
	if accel/(base+countEpsilon) > recalibrationRatio {
		return MethodBase, "recalibrating base rate"
	}
	if base/(accel+countEpsilon) > recalibrationRatio {
		return MethodAccelerated, "recalibrating accelerated rate"
	}

	if baseBias*st.BaseRate < st.AcceleratedRate {
		return MethodAccelerated, "accelerated rate higher"
	}
	return MethodBase, "base rate higher"
}

// MarshalText encodes the method by name.
func (m Method) MarshalText() ([]byte, error) { return []byte(m.String()), nil }
