package failure

// RadialReturn applies the von Mises return mapping to a stress tensor in
// place: if the equivalent stress exceeds the yield stress sy, the
// deviatoric part is scaled back to the (hardened) yield surface while the
// hydrostatic part is untouched. Returns the equivalent plastic strain
// increment, zero when the state is elastic.
func RadialReturn(s *[6]float64, sy, shearModulus, hardening float64) float64 {
	svm := VonMisesStress(*s)
	if svm <= sy || svm == 0 {
		return 0
	}
	dep := (svm - sy) / (3.0*shearModulus + hardening)
	target := sy + hardening*dep
	scale := target / svm

	mean := (s[0] + s[1] + s[2]) / 3.0
	for i := 0; i < 3; i++ {
		s[i] = mean + (s[i]-mean)*scale
	}
	for i := 3; i < 6; i++ {
		s[i] *= scale
	}
	return dep
}
