// Package tsdb mirrors sensor readings and classification results into
// InfluxDB for retention and dashboarding.
//
// Writes go through the non-blocking write API: points are batched and
// flushed in the background, and write failures are logged without
// affecting the ingest path. The mirror is optional; when disabled the
// service keeps only its in-memory rolling logs.
package tsdb
