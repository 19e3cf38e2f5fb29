// The oc-get tool issues a single GET request against an OpenCluster
// node and prints the result, following redirect hints itself so a
// script can always point at any node in the cluster (spec.md §4.7).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aristanetworks/glog"

	"github.com/opencluster/opencluster/internal/occlient"
)

var (
	addrFlag     = flag.String("addr", "127.0.0.1:31336", "Address of an OpenCluster node to query")
	mapFlag      = flag.String("map", "", "Map name the key belongs to")
	keyFlag      = flag.String("key", "", "Key to look up")
	maxHopsFlag  = flag.Int("max-hops", 5, "Maximum number of redirects to follow before giving up")
)

func main() {
	flag.Parse()
	if *keyFlag == "" {
		glog.Fatal("Specify -key")
	}

	addr := *addrFlag
	ctx := context.Background()
	for hop := 0; hop <= *maxHopsFlag; hop++ {
		c, err := occlient.Dial(ctx, addr)
		if err != nil {
			glog.Fatalf("Connecting to %s: %s", addr, err)
		}
		res, err := c.Get(*mapFlag, *keyFlag)
		c.Close()
		if err != nil {
			glog.Fatalf("GET %s/%s from %s: %s", *mapFlag, *keyFlag, addr, err)
		}
		if res.Found {
			printValue(res)
			return
		}
		if res.Redirect == "" {
			fmt.Fprintf(os.Stderr, "not found\n")
			os.Exit(1)
		}
		// A redirect hint is the primary's conninfo Name, not an ip:port;
		// this CLI assumes names resolve directly (spec.md's conninfo
		// model has no separate directory service to turn a name back
		// into an address).
		addr = res.Redirect
		time.Sleep(10 * time.Millisecond)
	}
	glog.Fatalf("Gave up after %d redirects", *maxHopsFlag)
}

func printValue(res occlient.Result) {
	if res.Value.String != nil {
		fmt.Println(string(res.Value.String))
		return
	}
	fmt.Println(res.Value.Int)
}
