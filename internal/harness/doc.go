// Package harness runs DIEL conformance scenarios against a live runtime.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: remote_join
//	description: "What this scenario validates"
//	program: ../programs/remote_join.cue   # or inline `source:`
//	workers: 1                             # in-process engines 2..n+1
//	config:                                # overrides, defaults otherwise
//	  ownerPolicy: majority
//	setup:
//	  - engine: 2
//	    sql: "INSERT INTO r1 (a) VALUES (1)"
//	steps:
//	  - input: i1
//	    row: {a: 1}
//	  - input: i2
//	    rows: [{a: 1}]
//	    expect:
//	      o1: [{a: 1, request_timestep: 2}]
//	  - exec: {engine: 2, sql: "DELETE FROM r1"}
//	  - addOutput: {name: o2, sql: "select count(*) as n from i1"}
//	  - input: i1
//	    row: {}
//	    error: "missing column"
//	assertions:
//	  - type: output_rows
//	    output: o1
//	    rows: [{a: 1}]
//	  - type: final_state
//	    engine: 2
//	    table: i1
//	    where: {a: 1}
//	    expect: {timestep: 1}
//
// # Assertion Types
//
//   - output_rows: the output holds exactly these rows, in any order
//   - output_count: the output holds N rows
//   - ledger_count: the input ledger holds N entries
//   - final_state: one row of a table on an engine has these values
//
// Expected rows match by subset: columns a row leaves out are ignored.
//
// # Deterministic Runs
//
// Each scenario gets a fresh in-memory local engine. Every output is
// bound before the first step and shipments are drained after each
// step, so the trace (the rows of every output after every step) is the
// same on every run and can be compared with golden files:
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/clicks_total.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
package harness
