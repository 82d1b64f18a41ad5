package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mickamy/kvrelay/tui"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("kvrelay-tui", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "kvrelay-tui — watch kvrelay traffic in real-time\n\nUsage:\n  kvrelay-tui [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	adminAddr := fs.String("admin", "localhost:8080", "kvrelayd admin HTTP address")
	serverAddr := fs.String("server", "", "kvrelayd data address for the execute view (e.g. localhost:12345)")
	showVersion := fs.Bool("version", false, "show version and exit")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("kvrelay-tui %s\n", version)
		return
	}

	p := tea.NewProgram(tui.New(*adminAddr, *serverAddr), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatal(err)
	}
}
