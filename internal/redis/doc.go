// Package redis provides the Redis-backed session store and offline
// queue. Both implement the same domain interfaces as their in-memory
// counterparts, so a deployment picks its backend with a config switch.
package redis
