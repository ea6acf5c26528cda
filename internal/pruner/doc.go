// Package pruner deletes expired snapshot history per device.
//
// Each pass walks every device's history directory, selects files that are
// older than the device's max age or beyond its newest max count, and deletes
// them. A failure on one device is logged and never stops the others. Empty
// directories are removed once all deletions of the pass are done, and the
// capture index is told which files disappeared.
package pruner
