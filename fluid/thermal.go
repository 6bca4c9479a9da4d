package fluid

// Default rock density for energy bookkeeping when no density volume is
// attached, kg/m³.
const defaultRockDensity = 2650.0

// coolingRate is the relaxation rate of connected fracture voxels toward
// the injected fluid temperature, per second of simulated time.
const coolingRate = 0.01

// initTemperature seeds the temperature field from the surface temperature
// and the configured thermal gradient along +z.
func (e *Engine) initTemperature() {
	if !e.fl.Geothermal {
		return
	}
	d := e.sh.Dims
	for z := 0; z < d.NZ; z++ {
		temp := e.fl.SurfaceTemp + e.fl.ThermalGradient*float64(z)*e.sh.Pitch
		for y := 0; y < d.NY; y++ {
			for x := 0; x < d.NX; x++ {
				v := d.Index(x, y, z)
				if e.sh.Labels[v] != 0 {
					e.sh.Temperature[v] = temp
				}
			}
		}
	}
}

// extractEnergy cools the connected fracture network toward the injection
// temperature and accumulates the heat removed as extracted energy.
func (e *Engine) extractEnergy(dt float64) {
	if !e.breakdown {
		return
	}
	voxVol := e.sh.Pitch * e.sh.Pitch * e.sh.Pitch
	// Rock volumetric heat capacity ~ρ·880 J/(kg·°C); the density volume
	// refines ρ per voxel when present.
	const rockHeatCapacity = 880.0
	frac := coolingRate * dt
	if frac > 1 {
		frac = 1
	}
	for v, fractured := range e.sh.Fractured {
		if !fractured || !e.sh.Connected[v] {
			continue
		}
		dT := e.sh.Temperature[v] - e.fl.InjectionTemp
		if dT <= 0 {
			continue
		}
		drop := frac * dT
		e.sh.Temperature[v] -= drop
		rho := defaultRockDensity
		if e.sh.Density != nil && e.sh.Density[v] > 0 {
			rho = e.sh.Density[v]
		}
		e.totalEnergy += rho * rockHeatCapacity * voxVol * drop
	}
}

// currentEnergyRate estimates the extraction rate for the time series from
// the produced-fluid enthalpy difference.
func (e *Engine) currentEnergyRate(flowRate float64) float64 {
	if !e.breakdown || flowRate <= 0 {
		return 0
	}
	sum, n := 0.0, 0
	for v, frac := range e.sh.Fractured {
		if frac && e.sh.Connected[v] {
			sum += e.sh.Temperature[v]
			n++
		}
	}
	if n == 0 {
		return 0
	}
	avgT := sum / float64(n)
	dT := avgT - e.fl.InjectionTemp
	if dT < 0 {
		dT = 0
	}
	return e.fl.FluidDensity * e.fl.FluidHeatCapacity * flowRate * dT
}

// thermalGradient reports the realized average vertical gradient of the
// temperature field.
func (e *Engine) thermalGradient() float64 {
	d := e.sh.Dims
	if d.NZ < 2 {
		return 0
	}
	var botSum, topSum float64
	var botN, topN int
	for y := 0; y < d.NY; y++ {
		for x := 0; x < d.NX; x++ {
			vb := d.Index(x, y, 0)
			vt := d.Index(x, y, d.NZ-1)
			if e.sh.Labels[vb] != 0 {
				botSum += e.sh.Temperature[vb]
				botN++
			}
			if e.sh.Labels[vt] != 0 {
				topSum += e.sh.Temperature[vt]
				topN++
			}
		}
	}
	if botN == 0 || topN == 0 {
		return 0
	}
	height := float64(d.NZ-1) * e.sh.Pitch
	return (topSum/float64(topN) - botSum/float64(botN)) / height
}
