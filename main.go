package main

import (
	"flag"

	"github.com/EslamSad3/cves/collector"
	"github.com/EslamSad3/cves/jobapi"
)

func main() {
	resume := flag.Bool("resume", false, "resume from the latest checkpoint")
	serve := flag.String("serve", "", "run the job API on this address instead of a one-shot collection (e.g. :8080)")
	flag.Parse()

	if *serve != "" {
		jobapi.Serve(*serve)
		return
	}
	collector.Run(*resume)
}
