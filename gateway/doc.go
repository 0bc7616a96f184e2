// Package gateway implements the throttled client in front of the external
// generation endpoint.
//
// Admission happens in two stages. A pending-request counter sheds load once a
// hard ceiling is exceeded (core.ErrOverloaded, nothing is queued). A counting
// semaphore then bounds concurrent network calls; callers wait at most
// AdmissionWait for a permit before receiving core.ErrBusy. Provider failures
// surface as *core.GenerationError. The gateway never retries.
package gateway
