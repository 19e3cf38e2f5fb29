// The oc-set tool issues a single SET request against an OpenCluster
// node, following redirect hints to the key's actual primary the same
// way oc-get does (spec.md §4.7).
package main

import (
	"context"
	"flag"
	"strconv"
	"time"

	"github.com/aristanetworks/glog"

	"github.com/opencluster/opencluster/internal/item"
	"github.com/opencluster/opencluster/internal/occlient"
)

var (
	addrFlag    = flag.String("addr", "127.0.0.1:31336", "Address of an OpenCluster node to write to")
	mapFlag     = flag.String("map", "", "Map name the key belongs to")
	keyFlag     = flag.String("key", "", "Key to write")
	valueFlag   = flag.String("value", "", "Value to store; stored as an int if it parses as one, else as a string")
	expiresFlag = flag.Int("expires", 0, "Seconds until the key expires, 0 for no expiry")
	maxHopsFlag = flag.Int("max-hops", 5, "Maximum number of redirects to follow before giving up")
)

func main() {
	flag.Parse()
	if *keyFlag == "" {
		glog.Fatal("Specify -key")
	}

	v := parseValue(*valueFlag)
	addr := *addrFlag
	ctx := context.Background()
	for hop := 0; hop <= *maxHopsFlag; hop++ {
		c, err := occlient.Dial(ctx, addr)
		if err != nil {
			glog.Fatalf("Connecting to %s: %s", addr, err)
		}
		redirect, err := c.Set(*mapFlag, *keyFlag, v, int32(*expiresFlag))
		c.Close()
		if err != nil {
			glog.Fatalf("SET %s/%s at %s: %s", *mapFlag, *keyFlag, addr, err)
		}
		if redirect == "" {
			return
		}
		addr = redirect
		time.Sleep(10 * time.Millisecond)
	}
	glog.Fatalf("Gave up after %d redirects", *maxHopsFlag)
}

func parseValue(s string) item.Value {
	if n, err := strconv.ParseInt(s, 10, 32); err == nil {
		return item.IntValue(int32(n))
	}
	return item.StringValue([]byte(s))
}
