// Package process starts and reaps a single local child process.
//
// Full process-group termination is only guaranteed on Unix, where the child is
// placed in its own process group and Kill signals every member of that group.
// On Windows Kill terminates the direct child only; grandchildren started by
// the backend (for example uvicorn reload workers) may outlive it.
package process
