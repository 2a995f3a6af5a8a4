// Package devapi serves the admin REST contract over a SQLite record store.
//
// Collections are routed as /{resource} and /{resource}/{id}; nested
// collections are listed and created under /{parent}/{parentId}/{child}.
// Every write appends to a change feed at /changes that admin clients poll
// to invalidate cached results.
package devapi
