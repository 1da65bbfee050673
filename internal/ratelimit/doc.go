// Package ratelimit decides whether a monitor's check may run now.
//
// Each monitor has four fixed (non-sliding) window counters: second, minute,
// hour and day. A window is the bucket floor(epochMillis / windowMillis); a
// counter observed in a newer bucket starts over at zero. A request is admitted
// only if every window is below its ceiling, and then all four are charged.
// A rejected request is never charged.
package ratelimit
