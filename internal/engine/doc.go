// Package engine implements the DIEL runtime: the physical execution
// coordinator that applies a compiled plan to the local SQLite engine and
// the configured remotes, accepts inputs, refreshes bound outputs and
// ships event data between engines.
//
// LIFECYCLE:
//
//  1. New validates the configuration and builds the shipment pool.
//  2. Setup opens the local store, connects every remote behind an
//     errgroup barrier, introspects existing tables, compiles the
//     program and executes each engine's definitions.
//  3. BindOutput registers callbacks; NewInput drives the program.
//  4. Close drains pending shipments and releases every engine.
//
// INPUT PROCESSING:
//
// Inputs are serialized. Each input gets the next logical timestep from
// the Clock and is written to its event table and the allInputs ledger
// in one transaction; local maintenance programs run as native
// triggers. Bound outputs that depend on the event are then re-read and
// their callbacks invoked, before any remote work starts.
//
// SHIPPING:
//
// The plan's routing table lists, per event, the relations to ship and
// their destination engines. Each shipment runs on the ants pool. Work
// for one remote is ordered by the remote's Conn, so the rows a
// shipment carries are read when it runs and the last shipment always
// carries the latest state. After the destination applies the update,
// every relation it computes from the shipped one is read back and
// delivered to the engine that needs it; rows arriving locally refresh
// the outputs that depend on them. Shipment failures are logged and not
// retried.
//
// The logical clock orders everything. Wall-clock time is recorded in
// the ledger for inspection only.
package engine
