// Package harness runs lane bring-up scenarios against the simulated bench.
//
// A scenario places a link partner on the far end of a fake transceiver,
// drives the lane's controls at chosen times, and asserts on the signal
// trace the probe records.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: offset_slip
//	description: "Partner three bits late; alignment slips into lock"
//	partner:
//	  bit_offset: 3
//	steps:
//	  - at: 0ns
//	    align_enable: true
//	duration: 6200ns
//	signals: [align_state, slips]
//	assertions:
//	  - type: final_value
//	    signal: align_state
//	    value: LOCKED
//	  - type: transition_count
//	    signal: slips
//	    count: 2
//
// # Assertion Types
//
//   - final_value: a signal's last recorded value
//   - transition_count: changes after the first observation, optionally
//     only those to a value
//   - reached_by: a signal takes a value no later than a simulated time
//   - never: a signal never takes a value
//   - lane_error: the lane's error code, or none
//
// # Deterministic Testing
//
// The bench is fully deterministic: the same scenario always yields the same
// trace, seqs included. Bit errors come from a seeded generator. Only the
// run ID varies, unless the scenario fixes run_id.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/offset_slip.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
