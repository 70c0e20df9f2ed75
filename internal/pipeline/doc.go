// Package pipeline contains the controller that drives media items through
// the download and upload stages. The controller owns no transfer logic of
// its own: detections arrive over the event bus, a periodic tick claims
// admitted tasks from the stage queues and hands them to worker pools, and
// stage outcome events chain completed downloads into the upload queue.
// Every state transition is forwarded to the persistence stores on a
// best-effort basis; a failing store never stalls the pipeline.
package pipeline
