// Package asyncx provides a thin, opinionated layer on top of asynq to enqueue
// and process background jobs while persisting lifecycle records in a
// relational database for status queries, auditing and manual retries.
//
// Quick start:
//  1. Apply the migrations package to a SQL DB and create NewSQLStore(db).
//  2. Declare topics with NewTopics (retry policy, pacing, concurrency caps).
//  3. Create a Client with NewClient(redis, store, topics, ...). Enqueue with Enqueue.
//  4. Create a Processor and register one handler per topic on an asynq.ServeMux.
//  5. Start the processor; it claims jobs, runs handlers inside a fault
//     boundary and records completed/queued/failed transitions.
//  6. Poll Client.Status for a job's state, attempts and last error.
package asyncx
