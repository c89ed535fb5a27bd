// Package mirror keeps an in-memory copy of a remote subtree.
//
// A Mirror subscribes to the remote tree, blocks in Start until the initial
// replay has been applied, and then applies change events on a single
// goroutine for as long as the subscription lasts. Readers call Lookup and
// ListChildren concurrently; they never touch the network and see the state
// after the most recently applied event.
//
// Paths handed to and returned by a Mirror are relative to the subscribed
// root: "/" is the root itself.
//
// Passthrough offers the same read surface without caching, answering every
// call with a remote round-trip.
package mirror
