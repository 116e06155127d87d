/*

Backend pipeline

IR Program (arbitrary register pressure, divergent bool phis allowed) ->
	live.Analyze ->
Live-in sets + peak register demand (dual logical/linear CFG) ->
	boolphi.Lower ->
IR Program (bool phis resolved to linear mask arithmetic) ->
	spill.Spill ->
IR Program (register demand fits target occupancy) ->
	regalloc.Allocate ->
IR Program (every temp has a physical register) ->
	asm.Assemble ->
Machine Code (flat []uint32 word stream, branches and exports fixed up)

*/
package compiler
