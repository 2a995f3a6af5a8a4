// Package admin wires the admin API resources to normalized entity stores.
//
// Each Feature owns the entity store of one resource and declares its list,
// get, create, update, replace and delete endpoints on a shared query
// client. Client is the single construction point: it builds every feature,
// runs the change-feed invalidation worker and tears everything down on
// Close.
package admin
