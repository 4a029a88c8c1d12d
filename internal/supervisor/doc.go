// Package supervisor manages single external processes on dynamically
// allocated localhost ports.
//
// A Supervisor owns exactly one process instance at a time: Start scans the
// configured port range, spawns the executable detached and hidden, and
// polls the readiness URL until healthy. All startup failures are soft
// (Start returns false); the supervisor never retries on its own, restart
// policy belongs to the caller.
//
// A clean exit (code 0) during startup is treated as failure too: for the
// bundled single-instance services it means another instance already owns
// the port.
package supervisor
