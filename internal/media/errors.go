package media

import "errors"

// Common errors returned by media implementations
var (
	// ErrDownloadFailed is returned when a download fails for any general reason
	ErrDownloadFailed = errors.New("download failed")

	// ErrUploadFailed is returned when an upload fails for any general reason
	ErrUploadFailed = errors.New("upload failed")

	// ErrEmptyArtifact is returned when a download produced a zero-byte artifact.
	// An empty artifact must surface as a failure, never as a success with an
	// unusable reference.
	ErrEmptyArtifact = errors.New("downloaded artifact is empty")

	// ErrNoPublishedRef is returned when the destination accepted an upload but
	// its response carried no published identifier
	ErrNoPublishedRef = errors.New("upload response missing published reference")

	// ErrSourceUnavailable is returned when the source cannot be reached or
	// refuses the listing request
	ErrSourceUnavailable = errors.New("source unavailable")
)
