// Package pollregistry implements the poll registry inside the governance
// context.
//
// The module owns poll creation per kind (simple, dynamic, weighted), choice
// enrollment, and the vote lifecycle (cast, cancel, change) with one live vote
// per voter and poll. Every state change runs as one transaction on the
// injected Ledger and appends to its event journal, which the outbox relay
// publishes and the tally projector consumes. Weight resolution and escrow
// movements go through the AssetGateway port.
package pollregistry
