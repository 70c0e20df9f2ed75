// Package media defines the contracts between the pipeline core and the
// outside world: detectors that find new items, downloaders that fetch
// them, and uploaders that publish them. The core depends only on these
// interfaces; concrete transports live under internal/platform and
// internal/detector, allowing the pipeline to run against any source or
// destination without coupling to a specific service.
package media
