// Package kernel holds the implementations of the inner product used by the
// projection and noise propagation loops. The implementation is picked once
// when a task is configured and never probed per call.
package kernel

import (
	"fmt"
	"strings"

	"golang.org/x/sys/cpu"
	"gonum.org/v1/gonum/floats"
)

// Kernel computes dot products of equally long vectors
type Kernel interface {
	// Name identifies the strategy
	Name() string

	// Dot returns sum(a[i]*b[i])
	Dot(a, b []float64) float64

	// Dot3 returns sum(a[i]*b[i]*c[i])
	Dot3(a, b, c []float64) float64
}

// Strategy names accepted by Select
const (
	Auto     = "auto"
	Generic  = "generic"
	Unrolled = "unrolled"
	Gonum    = "gonum"
)

// Select returns the kernel for a strategy name. "auto" resolves once from the
// CPU features of the running platform.
func Select(name string) (Kernel, error) {
	switch strings.ToLower(name) {
	case "", Auto:
		if hasVectorUnit() {
			return gonumKernel{}, nil
		}
		return unrolledKernel{}, nil
	case Generic:
		return genericKernel{}, nil
	case Unrolled:
		return unrolledKernel{}, nil
	case Gonum:
		return gonumKernel{}, nil
	default:
		return nil, fmt.Errorf("unknown kernel strategy %q", name)
	}
}

// hasVectorUnit reports whether gonum's assembly dot product can use
// wide registers on this machine
func hasVectorUnit() bool {
	return cpu.X86.HasAVX || cpu.X86.HasSSE2 || cpu.ARM64.HasASIMD
}

type genericKernel struct{}

func (genericKernel) Name() string { return Generic }

func (genericKernel) Dot(a, b []float64) float64 {
	s := 0.0
	for i, v := range a {
		s += v * b[i]
	}
	return s
}

func (genericKernel) Dot3(a, b, c []float64) float64 {
	s := 0.0
	for i, v := range a {
		s += v * b[i] * c[i]
	}
	return s
}

// unrolledKernel keeps four partial sums so the compiler can schedule the
// multiplications independently
type unrolledKernel struct{}

func (unrolledKernel) Name() string { return Unrolled }

func (unrolledKernel) Dot(a, b []float64) float64 {
	n := len(a)
	b = b[:n]
	var s0, s1, s2, s3 float64
	i := 0
	for ; i <= n-4; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	for ; i < n; i++ {
		s0 += a[i] * b[i]
	}
	return (s0 + s1) + (s2 + s3)
}

func (unrolledKernel) Dot3(a, b, c []float64) float64 {
	n := len(a)
	b = b[:n]
	c = c[:n]
	var s0, s1, s2, s3 float64
	i := 0
	for ; i <= n-4; i += 4 {
		s0 += a[i] * b[i] * c[i]
		s1 += a[i+1] * b[i+1] * c[i+1]
		s2 += a[i+2] * b[i+2] * c[i+2]
		s3 += a[i+3] * b[i+3] * c[i+3]
	}
	for ; i < n; i++ {
		s0 += a[i] * b[i] * c[i]
	}
	return (s0 + s1) + (s2 + s3)
}

// gonumKernel uses gonum's assembly backed floats.Dot
type gonumKernel struct{}

func (gonumKernel) Name() string { return Gonum }

func (gonumKernel) Dot(a, b []float64) float64 {
	return floats.Dot(a, b)
}

func (gonumKernel) Dot3(a, b, c []float64) float64 {
	ab := make([]float64, len(a))
	floats.MulTo(ab, a, b)
	return floats.Dot(ab, c)
}
