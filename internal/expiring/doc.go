// Package expiring provides key-keyed containers whose entries carry an independent
// time-to-live.
//
// Map holds values and invokes an eviction callback exactly once per expired entry.
// Set is the value-less variant used for "seen recently" windows.
//
// Removal and expiry are arbitrated by a single mutex: whichever of Remove or the
// entry's timer acquires it first observes the entry, the other observes nothing.
// Timers that lose the race, or whose entry was replaced or refreshed, are stale and
// do nothing when they fire.
package expiring
