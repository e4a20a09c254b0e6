// Package harness runs conformance scenarios against the review and commit
// workflow.
//
// A scenario drives the real preview/apply protocol, link transitions, alias
// resolution and the undo log against a fresh database and the test corpus,
// records every step in a trace and evaluates assertions on the trace and
// on the final tables.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: apply_undo_redo
//	description: "Apply commits accepted candidates as one undo batch"
//	setup:
//	  - action: save_rule
//	    args: { id: r1, scope: fam-debt, filter: '"Indebtedness" | "Negative Pledge"' }
//	flow:
//	  - invoke: preview
//	    args: { rule_id: r1 }
//	    expect:
//	      case: ok
//	      result: { candidate_count: 3 }
//	  - invoke: apply
//	    args: { expected_hash: stale }
//	    expect: { case: hash_mismatch }
//	assertions:
//	  - type: trace_count
//	    action: apply
//	    count: 1
//	  - type: final_state
//	    table: links
//	    where: { doc_id: ca-001, section_number: "7.01" }
//	    expect: { status: active }
//
// # Actions
//
// save_rule, add_alias, preview, accept_tiers, set_verdict, apply, unlink,
// relink, reassign, undo, redo and advance_clock. Link transitions address
// links by target key ("doc/section[/clause]") in the current scope
// closure. Apply and verdict actions use the most recent preview.
//
// # Outcome Cases
//
// Every flow step completes with a case: "ok", an apply code (not_found,
// expired, hash_mismatch), or a store outcome (not_found, conflict, locked,
// invalid). Any other error aborts the scenario.
//
// # Deterministic Testing
//
// The store runs on a testutil.Clock so lineage timestamps and expiry are
// reproducible. Traces hold only deterministic summaries (counts, statuses,
// scopes), never generated ids, which keeps golden files stable.
package harness
