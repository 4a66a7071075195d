/*
Package redisqueue adapts a Redis list into stream endpoints: a readable
stream fed by BLPOP and a writable stream draining into RPUSH.

Backpressure carries through to Redis naturally. The readable side only
issues a blocking pop when a consumer is waiting or the stream's queue has
headroom, so unconsumed items stay in Redis where other instances can take
them. The writable side pushes one chunk at a time, so a slow Redis
surfaces to producers through the writer's Ready promise.

	src, _ := redisqueue.NewReadable(redisqueue.Config{Redis: rdb, Key: "jobs"})
	dst, _ := redisqueue.NewWritable(redisqueue.Config{Redis: rdb, Key: "done"})
*/
package redisqueue
