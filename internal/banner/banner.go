package banner

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const logo = `
======================================================================
 _____                _   ____            _
|  ___| __ ___  _ __ | |_|  _ \  ___  ___| | __
| |_ | '__/ _ \| '_ \| __| | | |/ _ \/ __| |/ /
|  _|| | | (_) | | | | |_| |_| |  __/\__ \   <
|_|  |_|  \___/|_| |_|\__|____/ \___||___/_|\_\
----------------------------------------------------------------------`

const footer = `======================================================================`

// ConfigLine represents a single configuration line to display
type ConfigLine struct {
	Label string
	Value string
}

// Print displays the startup banner on stdout.
func Print(serviceName string, config []ConfigLine) {
	Fprint(os.Stdout, serviceName, config)
}

// Fprint writes the banner with aligned configuration lines to w.
func Fprint(w io.Writer, serviceName string, config []ConfigLine) {
	fmt.Fprintln(w, logo)
	fmt.Fprintf(w, "%s\n", serviceName)

	maxLen := 0
	for _, c := range config {
		if len(c.Label) > maxLen {
			maxLen = len(c.Label)
		}
	}
	for _, c := range config {
		value := c.Value
		if value == "" {
			value = "-"
		}
		fmt.Fprintf(w, "  %s%s : %s\n", c.Label, strings.Repeat(" ", maxLen-len(c.Label)), value)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Ready.")
	fmt.Fprintln(w, footer)
	fmt.Fprintln(w)
}
