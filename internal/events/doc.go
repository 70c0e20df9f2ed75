// Package events provides the in-process publish/subscribe hub the pipeline
// components communicate through.
//
// Producers (workers, controller, detectors) publish typed events without
// knowing which consumers will process them, enabling better separation of
// concerns and reducing circular dependencies. Consumers (controller
// reactions, the persistence layer, the API event stream) subscribe to the
// event types they care about.
//
// The primary components are:
// - EventType: the closed enumeration of pipeline event kinds
// - Event: one immutable published occurrence with payload and source
// - Bus: the hub itself; synchronous in-order delivery, bounded history ring
package events
