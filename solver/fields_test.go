package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/geovox/voxfem/grid"
)

func TestNewFieldsAllocation(t *testing.T) {
	d := grid.Dims{NX: 3, NY: 4, NZ: 5}
	n := d.Count()
	f := NewFields(d)

	assert.Len(t, f.Stress, 6*n)
	assert.Len(t, f.Strain, 6*n)
	assert.Len(t, f.Principal, 3*n)
	assert.Len(t, f.FailureIndex, n)
	assert.Len(t, f.Damage, n)
	assert.Len(t, f.Fractured, n)

	// Optional arrays stay nil until enabled.
	assert.Nil(t, f.Pressure)
	assert.Nil(t, f.PlasticStrain)

	f.EnableFluid()
	assert.Len(t, f.Pressure, n)
	assert.Len(t, f.Temperature, n)
	assert.Len(t, f.Aperture, n)
	assert.Len(t, f.Saturation, n)
	assert.Len(t, f.Connected, n)

	f.EnablePlasticity()
	assert.Len(t, f.PlasticStrain, n)
}

func TestStressAtRoundTrip(t *testing.T) {
	f := NewFields(grid.Dims{NX: 2, NY: 2, NZ: 2})
	want := [6]float64{1, -2, 3, -4, 5, -6}
	f.SetStressAt(5, want)
	assert.Equal(t, want, f.StressAt(5))

	// Neighboring voxels untouched.
	assert.Equal(t, [6]float64{}, f.StressAt(4))
	assert.Equal(t, [6]float64{}, f.StressAt(6))
}
