package types

// Version is the canonical project version.
// The CLI and the kernel wire protocol are versioned in lockstep.
const Version = "0.2.0"
