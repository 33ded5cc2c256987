package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"codeduel/internal/cli/command"
	"codeduel/internal/cli/config"
	httpclient "codeduel/internal/cli/http"
	"codeduel/internal/cli/repl"
	"codeduel/internal/cli/state"
	"codeduel/internal/duel/gateway"

	"github.com/chzyer/readline"
)

const defaultConfigPath = "configs/duel_cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	token := flag.String("token", "", "Override access token")
	statePath := flag.String("state", "", "Override state path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}

	st, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load state failed: %v\n", err)
		os.Exit(1)
	}
	if *token != "" {
		st.AccessToken = *token
	}

	commands := command.Registry()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "duel> ",
		HistoryFile:     cfg.HistoryFile,
		AutoComplete:    repl.Completer(commands),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init readline failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rl.Close() }()

	var issuer repl.TokenIssuer
	if cfg.JWTSecret != "" {
		issuer = gateway.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	}
	client := httpclient.New(cfg.BaseURL, cfg.Timeout, func() string { return st.AccessToken })
	session := repl.New(repl.Options{
		Client:    client,
		Commands:  commands,
		State:     &st,
		StatePath: cfg.StatePath,
		Pretty:    *cfg.PrettyJSON,
		Issuer:    issuer,
		TokenTTL:  cfg.TokenTTL,
		Out:       rl.Stdout(),
		Prompt: func(label string) (string, error) {
			defer rl.SetPrompt("duel> ")
			rl.SetPrompt(label + ": ")
			return rl.Readline()
		},
	})
	session.Run(context.Background(), rl)
}
