// Package detector provides the detection side of the pipeline: sources of
// new media items that feed the controller's sink. Two implementations are
// included. Poller periodically queries a remote catalog on a cron
// schedule, bounded by a daily active-hours window and deduplicated with a
// TTL cache. Watcher ingests files dropped into a local directory using
// filesystem notifications.
package detector
