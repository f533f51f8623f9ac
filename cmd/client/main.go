package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mama165/sdk-go/logs"

	"github.com/Tyrowin/relaychat/internal/client"
	"github.com/Tyrowin/relaychat/internal/client/ui"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := client.LoadConfig(os.Args[1:], os.Stderr)
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	fmt.Printf("Trying to connect to %s...\n", cfg.Addr())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, cfg.Addr(), log)
	if err != nil {
		return err
	}
	fmt.Printf("Successfully connected to %s\n\n", cfg.Addr())

	name := cfg.Name
	if name == "" {
		if name, err = promptName(os.Stdin, os.Stdout); err != nil {
			_ = c.Leave()
			return err
		}
	}
	fmt.Printf("\nWelcome, %s! Getting ready to send and receive messages...\n", name)

	return ui.Run(c, name)
}

func promptName(in io.Reader, out io.Writer) (string, error) {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, "Your name: ")
		line, err := reader.ReadString('\n')
		if name := strings.TrimSpace(line); name != "" {
			return name, nil
		}
		if err != nil {
			return "", fmt.Errorf("read name: %w", err)
		}
	}
}
