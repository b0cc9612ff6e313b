package main

import (
	"fmt"

	"github.com/fatih/color"
)

const helpString = `Hardware-accelerated screen recording daemon

Usage: screencapd [OPTION]...

Capture:
  -i, --video=SPEC            Video encoder driver spec (default: v4l2:/dev/video0)
  -a, --audio=SPEC            Audio driver spec. Set to "none" to record
                                video only (default: alsa:default)
  -g, --geometry=WxH          Video frame size, in pixels (default: 1280x720)
  -b, --bitrate=NUM           Video bitrate, in bits per second (default: 4000000)
  -r, --framerate=NUM         Video frame rate (default: 30)
  -k, --keyframe-interval=NUM Keyframe interval, in seconds (default: 2)

Output:
  -o, --output-dir=DIR        Directory for output files (default: ~/Videos)

Control:
  -l, --listen=ADDR           Serve the websocket control endpoint on ADDR
                                instead of recording immediately

Miscellaneous:
  -h, --help                  Prints this help message and exits
  -v, --version               Prints version information and exits

Please report bugs to: support@mahinalabs.com`

// Help information is printed and program exits
func help() {
	c := color.New(color.FgCyan)
	y := color.New(color.FgYellow)

	c.Println("                                                _ ")
	c.Printf(" ___  ___  _ __  ___   ___  _ __    ___  __ _  _ __")
	y.Println("")
	c.Printf("/ __|/ __|| '__|/ _ \\ / _ \\| '_ \\  / __|/ _` || '_ \\")
	y.Println("")
	c.Printf("\\__ \\ (__ | |  |  __/|  __/| | | || (__| (_| || |_) |")
	y.Println("")
	c.Printf("|___/\\___||_|   \\___| \\___||_| |_| \\___|\\__,_|| .__/")
	y.Println("")
	c.Println("                                              |_|")

	fmt.Println("")
	fmt.Println(helpString)
}

func version() {
	fmt.Println("screencapd", GitRevisionId)
	fmt.Println("Copyright 2026 Mahina Labs. All rights reserved.")
}
