package live

import "github.com/shadervm/gcnback/compiler/ir"

// vgprGranularity and sgprGranularity are the register-file allocation
// units: the hardware assigns vgprs/sgprs to a wave in blocks of this
// many registers, so occupancy steps down in these increments rather
// than per-register.
const (
	vgprGranularity = 4
	sgprGranularity = 8

	maxWaves = 10
)

// vccSGPRReserve is the extra pair of sgprs every wave needs for VCC,
// on top of whatever the program's own temps demand.
const vccSGPRReserve = 2

// EstimateWaves computes the number of waves per SIMD this program can
// run concurrently given its peak vgpr/sgpr demand, by finding how many
// granularity-rounded allocations of each register file fit. sgprDemand
// gets VCC's reserve added before rounding, and the rounded total is
// clamped to the chip's maximum addressable sgpr count: a demand past
// that clamp can never be satisfied at any wave count, and returning 0
// rather than pretending one wave fits lets the caller decide to spill
// instead of emitting a program that can't actually be launched.
func EstimateWaves(chip ir.ChipClass, vgprDemand, sgprDemand uint16) uint16 {
	totalSGPR, maxAddressableSGPR := ir.DeviceParams(chip)

	vgprPerWave := roundUp(vgprDemand, vgprGranularity)
	sgprNeed := sgprDemand + vccSGPRReserve
	if sgprNeed > maxAddressableSGPR {
		return 0
	}
	sgprPerWave := roundUp(sgprNeed, sgprGranularity)
	if sgprPerWave > maxAddressableSGPR {
		sgprPerWave = maxAddressableSGPR
	}

	const totalVGPR = 256

	waves := uint16(maxWaves)
	if vgprPerWave > 0 {
		if w := totalVGPR / vgprPerWave; w < waves {
			waves = w
		}
	}
	if sgprPerWave > 0 {
		if w := totalSGPR / sgprPerWave; w < waves {
			waves = w
		}
	}
	if waves == 0 {
		return 0
	}
	if waves > maxWaves {
		waves = maxWaves
	}
	return waves
}

func roundUp(v, granularity uint16) uint16 {
	if granularity == 0 {
		return v
	}
	return (v + granularity - 1) / granularity * granularity
}
