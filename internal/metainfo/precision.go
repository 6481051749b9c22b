package metainfo

// FloatPrecision is the floating point accuracy a unit asks the code
// generator for.
type FloatPrecision int

const (
	// PrecisionFull requires IEEE-754 conformant results
	PrecisionFull FloatPrecision = iota
	// PrecisionRelaxed allows flush-to-zero and relaxed rounding
	PrecisionRelaxed
	// PrecisionImprecise additionally allows unsafe math transformations
	PrecisionImprecise
)

// Pragma keys selecting the float precision of a unit
const (
	PragmaFPFull      = "rs_fp_full"
	PragmaFPRelaxed   = "rs_fp_relaxed"
	PragmaFPImprecise = "rs_fp_imprecise"
)

func (p FloatPrecision) String() string {
	switch p {
	case PrecisionFull:
		return "full"
	case PrecisionRelaxed:
		return "relaxed"
	case PrecisionImprecise:
		return "imprecise"
	default:
		return "unknown"
	}
}

// FloatPrecision returns the minimal precision the unit requires. The
// strictest pragma wins; a unit without precision pragmas needs full
// precision.
func (i *Info) FloatPrecision() FloatPrecision {
	var full, relaxed, imprecise bool
	for _, p := range i.Pragmas {
		key, err := i.pool.LookupString(p.Key)
		if err != nil {
			continue
		}
		switch key {
		case PragmaFPFull:
			full = true
		case PragmaFPRelaxed:
			relaxed = true
		case PragmaFPImprecise:
			imprecise = true
		}
	}

	switch {
	case full:
		return PrecisionFull
	case relaxed:
		return PrecisionRelaxed
	case imprecise:
		return PrecisionImprecise
	default:
		return PrecisionFull
	}
}
