// Package discovery finds channels worth monitoring and merges them into the
// channel registry.
//
// # Strategies
//
// One Discover call runs the strategies in order:
//
//  1. pattern: every known host crossed with the common channel names
//  2. hub: each curated hub group, then the usual sub-channels of the hubs
//     that answered
//  3. exploration: name guesses on hosts already in the registry, never
//     probed names first, at most MaxGuessesPerHost per host
//
// A candidate is probed at most once per run, even when several strategies
// produce it. The first strategy to produce it owns it.
//
// # Merging
//
// Confirmed candidates are registered with the discovery method of the
// strategy that found them; the registry reports ones it already holds as
// already-present, so repeated runs only refresh the probe log. Channels on
// hub hosts are registered with high priority.
//
// # Rate policy
//
// Probes are throttled three ways:
//   - MaxConcurrentProbes bounds outstanding probes (semaphore)
//   - ProbesPerSecond spaces probe starts (token bucket)
//   - MaxProbesPerRun is the per-run budget
//
// Running out of budget ends the run. It is reported through
// Result.BudgetExhausted, never as an error, and the unprobed candidates of
// the current wave are listed with verdict unknown.
//
// # Cancellation
//
// Cancelling the context stops the run before the next probe starts. Probes
// already in flight finish under ProbeTimeout and are recorded.
package discovery
