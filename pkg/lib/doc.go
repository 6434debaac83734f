// Package lib is the public SDK of the opcore orchestration core.
//
// It wires the process registry, the operation manager and the policy
// executor together behind a single [Client], so a host application (the
// file-manager shell) can run, track and cancel long-running operations
// without touching the internal packages.
package lib
