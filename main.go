package main

import "github.com/timvw/pcap-patrol/cmd"

func main() {
	cmd.Execute()
}
