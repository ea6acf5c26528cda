// Package snapshot schedules and captures still images from streaming
// cameras.
//
// The Scheduler wakes on a short tick, asks the supervisor which devices are
// Streaming and captures those whose interval has elapsed. The interval is
// per device and shortens around sunrise and sunset when a location is
// configured. Devices that are not Streaming are skipped and rescheduled for
// their next interval; nothing is queued for them. Captures grab one frame
// from the relay's RTSP path with ffmpeg and publish the file atomically.
package snapshot
