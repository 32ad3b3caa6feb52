package version

// Version is set at link time with -ldflags "-X .../version.Version=...".
var Version string = "0.0.0"
