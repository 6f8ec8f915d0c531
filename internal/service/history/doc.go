// Package history records dispatched jobs as campaigns and answers history
// queries: listing and search, totals, per-campaign failures, and recipient
// comparison against earlier sends.
//
// The Recorder plugs into the dispatcher as an observer. Repository
// implementations live in repository/postgres/ and repository/memory/.
package history
