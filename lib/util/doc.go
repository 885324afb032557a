// Package util provides small helpers shared by the store implementations,
// most importantly the seeded key hash used to pick a shard for a key.
package util
