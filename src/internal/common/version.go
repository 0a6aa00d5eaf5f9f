package common

// Version is the lsmcp release version, overridable at build time with
// -ldflags "-X lsmcp/src/internal/common.Version=...".
var Version = "0.3.0"
