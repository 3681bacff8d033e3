// Package harness runs recipe scenarios against the real interpreter and
// control loop, with scripted primitives standing in for data processing.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: imaging
//	description: "prepare then stack two frames"
//	recipe: |
//	  prepare
//	  stack
//	inputs:
//	  - N1.fits
//	  - file: N2.fits
//	    meta: {OBSID: GN-1, OBJECT: M31, INSTRUME: GMOS-N}
//	local: {stack: "false"}
//	primitives:
//	  prepare: {suffix: _prepared}
//	  stack:
//	    outputs: [stack.fits]
//	    yields: 2
//	    requests: [{kind: display, id: "1"}]
//	params:
//	  prepare: {suffix: {default: _p, type: str}}
//	assertions:
//	  - type: history_order
//	    steps: [prepare, stack]
//	  - type: inputs
//	    files: [stack.fits]
//
// A scripted primitive yields the given number of snapshots, queues its
// requests, then fails, reports outputs or finishes the run as told.
// Outputs are the literal files plus each input renamed with suffix.
//
// # Assertion Types
//
//   - history_count: step begins exactly count times
//   - history_order: steps begin in this order (others may intervene)
//   - inputs: the files the context holds when the run stops
//   - snapshots: the control loop saw exactly count snapshots
//   - skipped: step never began
//   - param: step saw param with value (requires capture on the step)
//
// # Deterministic Testing
//
// Every scenario runs with a fake wall clock that advances one second per
// reading and a fixed run id, so ReportHistory is byte-identical across
// runs and can be compared against testdata/golden/<name>.golden.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/imaging.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
