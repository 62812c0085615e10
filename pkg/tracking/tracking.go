// Package tracking implements the client-side location reconciliation core
// of the courier platform: decoding location updates off the broker topics,
// merging them into per-entity latest-known-state views, and publishing the
// driver's own position.
//
// # Views
//
// FleetView consumes the admin broadcast topic and keeps the latest update
// per driver, which is the data behind the admin map. OrderView consumes one
// order's topic and exposes only that order's assigned courier, which backs
// a customer's tracking page.
//
//	view := tracking.NewFleetView(client, "")
//	if err := view.Start(); err != nil {
//	    return err
//	}
//	defer view.Stop()
//	for _, courier := range view.Snapshot() {
//	    // render marker
//	}
//
// Tracked state is never aged out: a courier that stops publishing keeps its
// last position until the view is stopped.
//
// # Publishing
//
// Publisher samples a PositionSource on a fixed cadence and publishes each
// sample while the connection is active; samples taken while disconnected
// are dropped rather than queued.
package tracking
