// The conninfo-set tool rewrites one field of an existing conninfo
// descriptor file in place, re-canonicalizing the result. Useful for
// bumping a node's port or IP without hand-editing JSON.
package main

import (
	"flag"
	"os"

	"github.com/aristanetworks/glog"

	"github.com/opencluster/opencluster/internal/conninfo"
)

var (
	fileFlag = flag.String("file", "", "Path to the conninfo descriptor to update")
	nameFlag = flag.String("name", "", "New name, unchanged if empty")
	ipFlag   = flag.String("ip", "", "New IP, unchanged if empty")
	portFlag = flag.Int("port", 0, "New port, unchanged if 0")
)

func main() {
	flag.Parse()
	if *fileFlag == "" {
		glog.Fatal("Specify -file")
	}
	data, err := os.ReadFile(*fileFlag)
	if err != nil {
		glog.Fatalf("Reading %s: %s", *fileFlag, err)
	}
	ci, err := conninfo.Parse(data)
	if err != nil {
		glog.Fatalf("Parsing %s: %s", *fileFlag, err)
	}
	if *nameFlag != "" {
		ci.Name = *nameFlag
	}
	if *ipFlag != "" {
		ci.IP = *ipFlag
	}
	if *portFlag != 0 {
		ci.Port = *portFlag
	}
	out := append(ci.Canonical(), '\n')
	if err := os.WriteFile(*fileFlag, out, 0644); err != nil {
		glog.Fatalf("Writing %s: %s", *fileFlag, err)
	}
}
