// Package events carries daemon lifecycle notifications from the scheduler
// and the dependency build tracker to every connected client.
//
// Bus assigns sequence numbers, keeps a bounded buffer of recent events and
// fans each event out to subscribers over buffered channels. A subscriber
// that stops draining its channel loses events instead of stalling the
// publisher; the loss is counted on the subscription.
package events
