// Package task manages pipeline task queuing, execution, and lifecycle.
// The Queue tracks every task in exactly one of four views (pending,
// processing, completed, failed) under a single lock, which is the
// pipeline's only admission point for bounded concurrency. The Pool runs
// one goroutine per claimed task, translating external operation outcomes
// into queue transitions and events, with cooperative cancellation and a
// strict no-success-without-result rule.
package task
