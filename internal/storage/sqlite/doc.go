// Package sqlite contains the SQLite repository for vertex fit results.
//
// All reads and writes of fit runs, fitted vertices and per-track refits
// belong here so that the fitter and the batch runner stay free of SQL.
// The schema itself is owned by internal/db and its migrations.
package sqlite
