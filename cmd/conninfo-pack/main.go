// The conninfo-pack tool builds a canonical conninfo descriptor file
// from a name/ip/port triple, the format `oc-serverd`'s -l and -n
// flags expect (spec.md §6).
package main

import (
	"flag"
	"os"

	"github.com/aristanetworks/glog"

	"github.com/opencluster/opencluster/internal/conninfo"
)

var (
	nameFlag = flag.String("name", "", "Node's canonical name")
	ipFlag   = flag.String("ip", "", "Node's IP address")
	portFlag = flag.Int("port", conninfo.DefaultPort, "Node's listening port")
	outFlag  = flag.String("out", "", "Path to write the descriptor to; '-' or empty for stdout")
)

func main() {
	flag.Parse()
	if *nameFlag == "" {
		glog.Fatal("Specify -name")
	}
	ci := conninfo.ConnInfo{Name: *nameFlag, IP: *ipFlag, Port: *portFlag}
	data := ci.Canonical()
	data = append(data, '\n')

	if *outFlag == "" || *outFlag == "-" {
		os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(*outFlag, data, 0644); err != nil {
		glog.Fatalf("Writing %s: %s", *outFlag, err)
	}
}
