// Package physics is the reference N-body physics shared by every backend.
//
// A [Particle] is seven packed float32 values (position, velocity, mass) and
// is the record the GPU kernel reads and writes. [Gravity] computes softened
// pairwise accelerations and advances a system with semi-implicit Euler, the
// scheme the compute kernel implements:
//
//	v' = v + a(x) dt
//	x' = x + v' dt
//
// Accelerations are summed in index order in float32, so [Gravity.StepRange]
// run over disjoint ranges produces the same bits as one sequential pass.
//
// # Diagnostics
//
// [Gravity.Energy], [Momentum] and [CenterOfMass] accumulate in float64 and
// are meant for drift monitoring, not for the integration itself.
package physics
