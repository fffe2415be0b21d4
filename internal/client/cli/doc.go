// Package cli provides the interactive GarageKeeper command-line client.
//
// NewApp wires configuration, the local store, the gateway, the sync engine
// and the connectivity monitor. App.Run starts the background workers
// (probe, scheduler, realtime listener) and the REPL, and blocks until the
// user exits.
//
// Every command works offline. Writes are visible immediately and reach the
// server on the next sync pass; "status" shows what is still queued.
package cli
