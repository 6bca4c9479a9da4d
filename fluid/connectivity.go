package fluid

// visitCap bounds the BFS frontier to keep connectivity memory and time
// bounded on large domains.
const visitCap = 1000000

// gradientFraction: a non-fractured neighbor joins the frontier when its
// pressure exceeds this fraction of the injection pressure, approximating
// the high-gradient flow channels around the fracture network.
const gradientFraction = 0.5

// recomputeConnectivity re-derives the injection-point connectivity flags by
// bounded-frontier breadth-first search over fractured and high-pressure
// voxels. Voxels outside the reached frontier are marked disconnected. The
// search itself is sequential; only the flag clearing is chunked.
func (e *Engine) recomputeConnectivity() {
	d := e.sh.Dims
	for i := range e.sh.Connected {
		e.sh.Connected[i] = false
	}

	if !d.Inside(e.injVoxel[0], e.injVoxel[1], e.injVoxel[2]) {
		return
	}
	start := d.Index(e.injVoxel[0], e.injVoxel[1], e.injVoxel[2])
	if e.sh.Labels[start] == 0 {
		return
	}

	e.visitGen++
	gen := e.visitGen
	pThreshold := gradientFraction * e.fl.InjectionPressure

	e.queue = e.queue[:0]
	e.queue = append(e.queue, int32(start))
	e.visitStamp[start] = gen
	visited := 1

	for head := 0; head < len(e.queue); head++ {
		v := int(e.queue[head])
		e.sh.Connected[v] = true
		if visited >= visitCap {
			break
		}
		x, y, z := d.Coords(v)
		for _, dv := range neighborDeltas {
			nx, ny, nz := x+dv[0], y+dv[1], z+dv[2]
			if !d.Inside(nx, ny, nz) {
				continue
			}
			nv := d.Index(nx, ny, nz)
			if e.visitStamp[nv] == gen || e.sh.Labels[nv] == 0 {
				continue
			}
			if !e.sh.Fractured[nv] && e.sh.Pressure[nv] < pThreshold {
				continue
			}
			e.visitStamp[nv] = gen
			e.queue = append(e.queue, int32(nv))
			visited++
			if visited >= visitCap {
				break
			}
		}
	}
}
