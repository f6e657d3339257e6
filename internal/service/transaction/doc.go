// Package transaction renders the privileged installation transaction.
//
// A transaction is a self-contained bash script bound to one TransactionSpec.
// It validates the archive, backs up the current installation, extracts the
// archive into a temporary directory, swaps the install root, registers the
// launcher entry and the bin symlink, refreshes desktop caches, and rolls
// back on any failure after the backup step. Every step is logged with a
// timestamp to both stdout and the transaction's own log file.
//
// The package also validates archives before any privilege escalation and
// writes rendered scripts to disk as owner-only executables.
package transaction
