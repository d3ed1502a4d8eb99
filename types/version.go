package types

// Version is the canonical project version shared by the CLI and the
// pipeline core.
const Version = "0.1.0"
