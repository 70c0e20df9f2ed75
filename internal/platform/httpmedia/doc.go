// Package httpmedia implements the media transfer interfaces over HTTP.
// Downloader fetches a source URL into the working directory (file URLs
// from the drop-folder watcher are copied instead), Uploader publishes an
// artifact to the destination with a multipart POST, and CatalogClient
// lists the source's recent items for the poller. All three share the same
// resty client idioms.
package httpmedia
