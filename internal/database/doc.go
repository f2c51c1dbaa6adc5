// Package database constructs the pgx connection pool for the durable archive.
package database
