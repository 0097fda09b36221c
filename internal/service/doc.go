// Package service implements the job operations exposed by the runner.
//
// Overview
// The Service owns the job root, the worker pool, the notifier and the store.
// A job enters through Submit (uploaded script), Execute (script already
// present) or RunAll (everything found under the root). Each of them assigns
// a job id, persists the job and dispatches the engine run to the pool.
//
// Data flow:
//
//   Service               worker.Pool            engine.Engine          notify.Notifier
//      |                       |                       |                       |
//   Submit/Execute/RunAll      |                       |                       |
//      | save SUBMITTED        |                       |                       |
//      | SubmitWithTimeout --->| Run(ctx, job) ------->|                       |
//      |                       |                       | milestone ----------->| Publish
//      |                       |                       | terminal ------------>| Publish
//      |<-- onResolve ---------|                       |                       |
//      | save terminal, metrics                        |                       |
//      | timeout: publish FAILED --------------------------------------------->| Publish
//
// Invariants:
//   - every dispatched job is persisted twice, when submitted and when resolved
//   - a job resolves exactly once, the timeout snapshot wins over a late worker
//   - RunAll dispatches one job per job directory
//
// The scheduler started by Schedule calls RunAll on batch.cron or every
// batch.every.
package service
