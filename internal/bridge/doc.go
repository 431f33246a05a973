// Package bridge implements the correlation bridge between the synchronous
// HTTP front-end and the asynchronous worker pipeline.
//
// Every inbound request is assigned a unique token, recorded as pending in
// the Ledger, and published to the request queue with the token as its
// correlation id. A supervised Consumer drains the response queue and
// resolves ledger entries by matching tokens; clients poll the ledger until
// their entry is ready and take it exactly once.
package bridge
