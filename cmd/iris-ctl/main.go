package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	cli "github.com/spf13/pflag"

	"iris/internal/ipc"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: iris-ctl [flags] trigger | say <text> | file <path> | status\n")
	cli.PrintDefaults()
}

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Control socket path")
	timeout := cli.DurationP("timeout", "t", 2*time.Minute, "How long to wait for the daemon")
	cli.Usage = usage
	cli.Parse()

	args := cli.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	msg := ipc.ControlMessage{Cmd: args[0], Text: strings.Join(args[1:], " ")}

	switch msg.Cmd {
	case ipc.CmdTrigger, ipc.CmdStatus:
	case ipc.CmdSay, ipc.CmdFile:
		if msg.Text == "" {
			usage()
			os.Exit(2)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", msg.Cmd)
		os.Exit(2)
	}

	reply, err := ipc.Send(*socket, msg, *timeout)
	if err != nil {
		fmt.Println("iris-daemon not running:", err)
		os.Exit(1)
	}

	if !reply.OK {
		fmt.Println("error:", reply.Error)
		os.Exit(1)
	}

	if reply.Text != "" {
		fmt.Println(reply.Text)
	}
}
