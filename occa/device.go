// Package occa implements the compute backend on OCCA devices via gocca:
// stiffness assembly, the PCG kernel set and stress recovery all run as
// compiled device kernels, with only reduced scalars crossing back to the
// host control flow. Kernel parameters are declared as named, structured
// definitions rather than positional argument indices.
package occa

import (
	"errors"
	"fmt"

	"github.com/notargets/gocca"
)

// ErrNoDevice is returned when no OCCA backend can be created.
var ErrNoDevice = errors.New("occa: no compute device available")

// devicePreferences orders backend attempts for GPU runs.
var devicePreferences = []string{
	`{"mode": "CUDA", "device_id": 0}`,
	`{"mode": "OpenCL", "platform_id": 0, "device_id": 0}`,
	`{"mode": "OpenMP"}`,
	`{"mode": "Serial"}`,
}

// OpenDevice creates an OCCA device. A non-empty mode override (e.g.
// "CUDA", "OpenMP") pins the backend; otherwise the preference list is
// tried in order, falling back to Serial. Failure carries remediation
// hints rather than a bare error.
func OpenDevice(mode string) (*gocca.OCCADevice, error) {
	if mode != "" {
		props := fmt.Sprintf(`{"mode": %q}`, mode)
		device, err := gocca.NewDevice(props)
		if err != nil {
			return nil, fmt.Errorf("%w: mode %s failed (%v); check the OCCA installation or clear the device preference to auto-select",
				ErrNoDevice, mode, err)
		}
		return device, nil
	}
	for _, props := range devicePreferences {
		device, err := gocca.NewDevice(props)
		if err == nil {
			return device, nil
		}
	}
	return nil, fmt.Errorf("%w: no backend in preference list could be created; install OCCA with a GPU backend or run with the CPU fallback",
		ErrNoDevice)
}
