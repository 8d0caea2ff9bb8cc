// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jllopis/hive/pkg/gateway"
	"github.com/jllopis/hive/pkg/hive"
	"github.com/jllopis/hive/pkg/protocol"
)

// ChatCmd is an interactive session with the hive.
type ChatCmd struct {
	Session string            `help:"Session id. Reusing an id resumes its stored history." default:"cli"`
	Message string            `short:"m" help:"Send one message and exit."`
	Token   map[string]string `help:"Credential per server (server=token, * for any)."`
}

func (c *ChatCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := newApp(ctx, cli)
	if err != nil {
		return err
	}
	defer func() { _ = a.close(context.Background()) }()

	if c.Message != "" {
		return c.send(ctx, a.gw, c.Message, os.Stdout)
	}
	return c.repl(ctx, a.gw, os.Stdin, os.Stdout)
}

func (c *ChatCmd) send(ctx context.Context, gw *gateway.Gateway, message string, out io.Writer) error {
	_, err := gw.Chat(ctx, gateway.ChatRequest{
		SessionID:   c.Session,
		Message:     message,
		Credentials: protocol.Credentials(c.Token),
	}, hive.NewConsoleHandler(out).ShowAgent())
	return err
}

// repl reads one message per line. Turn errors are printed by the console
// handler and do not end the session.
func (c *ChatCmd) repl(ctx context.Context, gw *gateway.Gateway, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "session %s, /quit to leave\n", c.Session)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}
		_ = c.send(ctx, gw, line, out)
		if ctx.Err() != nil {
			return nil
		}
	}
}
