package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	cli "github.com/spf13/pflag"

	"kiosk/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", envOr("KIOSK_SOCKET", ipc.DefaultSocketPath), "Daemon control socket")
	timeout := cli.DurationP("timeout", "t", 90*time.Second, "How long to wait for the daemon")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: kiosk-ctl [flags] <command|clip|abort|scene|say TEXT|call CONTACT_ID|refresh|status>\n")
		cli.PrintDefaults()
	}
	cli.Parse()

	args := cli.Args()
	if len(args) == 0 {
		cli.Usage()
		os.Exit(2)
	}

	req := ipc.Request{Cmd: args[0], Arg: strings.Join(args[1:], " ")}
	reply, err := ipc.Send(*socket, req, *timeout)
	if err != nil {
		fmt.Println("kiosk-daemon not running:", err)
		os.Exit(1)
	}

	if !reply.OK {
		fmt.Println("error:", reply.Message)
		os.Exit(1)
	}

	if req.Cmd == ipc.CmdStatus && reply.Status != nil {
		out, _ := json.MarshalIndent(reply.Status, "", "  ")
		fmt.Println(string(out))
		return
	}
	fmt.Println("ok")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
