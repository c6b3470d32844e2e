package cmd

// Version is injected at build time with
// -ldflags "-X github.com/timvw/pcap-patrol/cmd.Version=...".
var Version = "dev"
