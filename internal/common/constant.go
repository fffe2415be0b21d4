// Package common contains shared constants and sentinel errors used across
// GarageKeeper components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// RecordChangesChannel is the PostgreSQL NOTIFY channel that carries
// record change notifications from the server schema triggers.
const RecordChangesChannel = "record_changes"
