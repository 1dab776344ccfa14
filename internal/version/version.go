package version

// Version is set at build time with -ldflags "-X github.com/p2plend/client/internal/version.Version=...".
var Version = "dev"
