// Package checkqueue runs monitor checks one at a time, in priority order,
// behind a rate limiter.
//
// A Queue is idle until the first Enqueue starts its drain loop. The loop pops
// the most urgent item, asks the limiter for admission and either runs the
// check or holds the item for the requeue delay before putting it back. While
// an item is held nothing else is dispatched: a rejected head blocks the line.
// The loop exits when the queue is empty and the next Enqueue starts a new one.
package checkqueue
