package ratelimit

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// The burst bucket caps how many immediate (non-delayed) admissions one
// (subject, endpoint-class) pair gets before the limiter starts asking for
// a retry, regardless of burst capacity: a fresh Admitter handed N
// back-to-back Admit calls never admits more than its configured
// BurstCapacity without a RetryAfter.
func TestProperty_Admit_NeverExceedsBurstCapacityImmediately(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("immediate admissions never exceed burst capacity", prop.ForAll(
		func(burstCapacity, attempts int) bool {
			a := NewAdmitter(Config{
				BurstCapacity:     burstCapacity,
				BurstRefillPerSec: 0.001, // refill negligible within the test
				SustainedCapacity: burstCapacity * 100,
				SustainedPerMin:   float64(burstCapacity * 100),
			}, nil)

			admitted := 0
			for i := 0; i < attempts; i++ {
				decision, err := a.Admit("subject-1", "endpoint-1", true)
				if err != nil {
					t.Logf("Admit failed: %v", err)
					return false
				}
				if decision.Admitted {
					admitted++
				}
			}
			return admitted <= burstCapacity
		},
		gen.IntRange(1, 20),
		gen.IntRange(0, 200),
	))

	properties.TestingRun(t)
}
