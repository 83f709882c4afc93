// Package merge finds conversations that belong to the same remote contact
// and merges them into one.
//
// # Overview
//
// The messaging provider does not keep remote identifiers stable for a phone
// number, so one contact can end up with several conversations in a session.
// The engine groups the conversations of each session by normalized contact
// phone, picks a survivor per group, moves every message of the other
// members to it and soft-deletes them.
//
// # Pipeline
//
// Each session goes through the same steps:
//
//  1. Scan: list the live, non-group conversations of the session
//  2. Group: GroupConversations keys them with an identity.Normalizer and
//     keeps keys shared by two or more conversations
//  3. Select: Selector.Rank scores every member (canonical channel suffix,
//     then message count, then last activity) and the best one survives
//  4. Plan: BuildPlan lists each duplicate with its message count
//  5. Execute: Executor.Execute reassigns messages and deletes duplicates,
//     skipped entirely in simulation mode
//
// Counters are accumulated per session in a SessionReport and folded into
// the run Report.
//
// # Safety
//
// A run converges when repeated: merged duplicates are deleted, so a second
// run finds no groups. A crash between reassigning and deleting one duplicate
// leaves an empty conversation that the next run merges away. Live runs hold
// the store's merge lock; simulations take no lock and never write.
//
// # Usage
//
//	cfg := merge.DefaultConfig()
//	engine, err := merge.NewEngine(store, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	report, err := engine.Run(ctx, merge.Options{Simulate: true})
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("%d duplicate groups\n", report.TotalDuplicateGroups)
package merge
