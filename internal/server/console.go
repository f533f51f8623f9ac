// Package server reads operator commands from a control channel: the quit
// token shuts the relay down and `who` prints the live roster.
package server

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

// Controller is what the operator console drives.
type Controller interface {
	Peers() []PeerInfo
	Shutdown(timeout time.Duration) error
}

// Console is the operator control channel.
type Console struct {
	target    Controller
	in        io.Reader
	out       io.Writer
	quitToken string
	timeout   time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// NewConsole builds a console reading commands from in and printing to out.
func NewConsole(target Controller, in io.Reader, out io.Writer, cfg Config, log *slog.Logger) *Console {
	return &Console{
		target:    target,
		in:        in,
		out:       out,
		quitToken: cfg.QuitToken,
		timeout:   cfg.ShutdownTimeout,
		log:       log,
		now:       time.Now,
	}
}

// Run processes commands until the quit token or the end of input. It
// reports whether shutdown was triggered, with the shutdown error if any.
func (c *Console) Run() (bool, error) {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch cmd {
		case "":
		case c.quitToken:
			fmt.Fprintln(c.out, color.Yellow.Sprint("Closing all connections..."))
			err := c.target.Shutdown(c.timeout)
			fmt.Fprintln(c.out, color.Yellow.Sprint("Shutting down the server..."))
			return true, err
		case "who":
			c.printRoster()
		default:
			fmt.Fprintf(c.out, "unknown command %q, type %q to quit or \"who\" to list peers\n", cmd, c.quitToken)
		}
	}
	if err := scanner.Err(); err != nil {
		c.log.Warn("Control channel read failed", "error", err)
	}
	c.log.Info("Control channel closed; console stopped")
	return false, nil
}

func (c *Console) printRoster() {
	peers := c.target.Peers()
	if len(peers) == 0 {
		fmt.Fprintln(c.out, color.Cyan.Sprint("no peers connected"))
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.SetHeader([]string{"#", "Peer", "Kind", "Session", "Connected"})
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	now := c.now()
	for i, p := range peers {
		table.Append([]string{
			strconv.Itoa(i + 1),
			p.ID,
			p.Kind,
			p.Session.String(),
			now.Sub(p.ConnectedAt).Truncate(time.Second).String(),
		})
	}
	table.Render()
}
