// Package dlm is a client for the fleet wide lock service. Holding the lock
// named by the configuration grants a host permission to update; only one host
// holds it at a time.
//
// The service exposes a single resource per lock:
//
//	GET    {endpoint}locks/{name}   200 {"acquired_by": "<host>"} while held
//	POST   {endpoint}locks/{name}   201 when the lock was created for us
//	DELETE {endpoint}locks/{name}   200 when the lock was released
//
// Mutating requests authenticate with the x-secret-id and x-secret headers.
package dlm
