// Command csup is a minimal entrypoint wiring a single collection
// through internal/driver against a dialed connection. It is
// explicitly not the supfile-driven option surface spec §1 puts out
// of scope; it exists so the module builds a binary and so the
// driver/worker pipeline can be smoke-tested end to end against a
// real server without a supfile.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/maxux/csup/internal/collection"
	"github.com/maxux/csup/internal/driver"
)

func main() {
	var (
		host    = pflag.StringP("host", "h", "", "server to connect to (required)")
		port    = pflag.Uint16P("port", "p", 5999, "server port")
		base    = pflag.StringP("base", "b", "/usr/local/etc/cvsup", "local base directory")
		collNm  = pflag.StringP("collection", "c", "", "collection name (required)")
		release = pflag.String("release", "cvs", "collection release")
		tag     = pflag.String("tag", ".", "checkout tag")
		date    = pflag.String("date", ".", "checkout date")
		timeout = pflag.Duration("timeout", 30*time.Second, "dial timeout")
	)
	pflag.Parse()

	if *host == "" || *collNm == "" {
		fmt.Fprintln(os.Stderr, "csup: --host and --collection are required")
		pflag.Usage()
		os.Exit(2)
	}

	umask := unix.Umask(0)
	unix.Umask(umask)

	b := collection.NewBuilder(os.FileMode(umask))
	b.SetOption(collection.OptKeyRelease, *release) //nolint:errcheck // literal flags can't fail to parse
	b.SetOption(collection.OptKeyTag, *tag)         //nolint:errcheck
	b.SetOption(collection.OptKeyDate, *date)       //nolint:errcheck
	b.Add(*collNm)

	cfg, err := b.Finish(*host, *base, "", *port, 0, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "csup: %v\n", err)
		os.Exit(1)
	}

	addr := net.JoinHostPort(*host, fmt.Sprintf("%d", *port))
	conn, err := net.DialTimeout("tcp", addr, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "csup: dial %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := driver.Run(context.Background(), conn, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "csup: %s: %v\n", driver.Classify(err), err)
		os.Exit(1)
	}
}
