// Package stream consumes Redis streams through a consumer group with
// at-least-once delivery.
//
// A message is acknowledged only after its handler returns nil. Messages
// that fail to decode are acknowledged and dropped since redelivering them
// cannot help. Messages left pending by a failed handler, or by a consumer
// that died, are reclaimed with XAUTOCLAIM once they have been idle for
// MinIdle.
package stream
