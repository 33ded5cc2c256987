// Package repl is the interactive duel-cli session.
package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeduel/internal/cli/command"
	httpclient "codeduel/internal/cli/http"
	"codeduel/internal/cli/live"
	"codeduel/internal/cli/state"
	pkgerrors "codeduel/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

// ErrExit is returned by Execute when the user asks to quit.
var ErrExit = errors.New("exit")

// TokenIssuer mints development access tokens.
type TokenIssuer interface {
	Issue(userID string, ttl time.Duration) (string, error)
}

// LineReader supplies input lines; readline.Instance satisfies it.
type LineReader interface {
	Readline() (string, error)
}

// Options wires a Session.
type Options struct {
	Client    *httpclient.Client
	Commands  map[string]command.Command
	State     *state.Session
	StatePath string
	Pretty    bool
	Issuer    TokenIssuer
	TokenTTL  time.Duration
	Out       io.Writer
	// Prompt asks for a missing field value.
	Prompt func(label string) (string, error)
}

// Session holds REPL state.
type Session struct {
	opts Options

	outMu sync.Mutex

	mu       sync.Mutex
	conn     *live.Conn
	liveDuel string
	seq      int
}

func New(opts Options) *Session {
	if opts.Commands == nil {
		opts.Commands = command.Registry()
	}
	if opts.State == nil {
		opts.State = &state.Session{}
	}
	return &Session{opts: opts}
}

// Completer builds tab completion for the registered commands.
func Completer(commands map[string]command.Command) *readline.PrefixCompleter {
	actions := make(map[string][]readline.PrefixCompleterInterface)
	var services []string
	for _, cmd := range command.Sorted(commands) {
		if _, ok := actions[cmd.Service]; !ok {
			services = append(services, cmd.Service)
		}
		actions[cmd.Service] = append(actions[cmd.Service], readline.PcItem(cmd.Action))
	}
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"), readline.PcItem("exit"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("token"), readline.PcItem("user")),
		readline.PcItem("show", readline.PcItem("state")),
	}
	for _, service := range services {
		items = append(items, readline.PcItem(service, actions[service]...))
	}
	return readline.NewPrefixCompleter(items...)
}

// Run reads lines until EOF or exit.
func (s *Session) Run(ctx context.Context, reader LineReader) {
	defer s.closeLive()
	for {
		line, err := reader.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := s.Execute(ctx, line); err != nil {
			if errors.Is(err, ErrExit) {
				s.printLine("bye")
				return
			}
			s.printLine("error: %v", err)
		}
	}
}

// Execute runs one input line.
func (s *Session) Execute(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	switch tokens[0] {
	case "exit", "quit":
		return ErrExit
	case "help":
		s.printHelp()
		return nil
	case "set":
		return s.handleSet(tokens[1:])
	case "show":
		s.handleShow()
		return nil
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	cmd, ok := s.opts.Commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
	}
	params, err := command.ParseArgs(tokens[2:])
	if err != nil {
		return err
	}
	params.Canonicalize(cmd.Fields)
	s.applyStateDefaults(cmd, params)
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}

	switch cmd.Kind {
	case command.KindLocal:
		return s.login(params.Get("user"))
	case command.KindLive:
		return s.handleLive(ctx, cmd, params)
	default:
		return s.handleHTTP(ctx, cmd, params)
	}
}

func (s *Session) applyStateDefaults(cmd command.Command, params command.Params) {
	st := s.opts.State
	switch cmd.Key() {
	case "duel get", "live connect":
		params.SetDefault("id", st.DuelID)
	case "player stats":
		params.SetDefault("id", st.UserID)
	}
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range command.Missing(cmd, params) {
		if s.opts.Prompt == nil {
			return fmt.Errorf("missing %s", field.Name)
		}
		value, err := s.opts.Prompt(field.Prompt)
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		params.Set(field.Name, strings.TrimSpace(value))
	}
	return nil
}

func (s *Session) handleSet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set base|timeout|token|user <value>")
	}
	st := s.opts.State
	switch args[0] {
	case "base":
		s.opts.Client.SetBaseURL(args[1])
		s.printLine("base set to %s", args[1])
		return nil
	case "timeout":
		dur, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		s.opts.Client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
		return nil
	case "token":
		st.AccessToken = args[1]
	case "user":
		st.UserID = args[1]
	case "duel":
		st.DuelID = args[1]
	default:
		return fmt.Errorf("unknown set command: %s", args[0])
	}
	return s.saveState()
}

func (s *Session) handleShow() {
	st := s.opts.State
	token := st.AccessToken
	switch {
	case token == "":
		token = "<empty>"
	case len(token) > 12:
		token = token[:6] + "..." + token[len(token)-4:]
	}
	s.printLine("base:  %s", s.opts.Client.BaseURL())
	s.printLine("user:  %s", st.UserID)
	s.printLine("duel:  %s", st.DuelID)
	s.printLine("token: %s", token)
	s.mu.Lock()
	if s.conn != nil {
		s.printLine("live:  %s", s.liveDuel)
	}
	s.mu.Unlock()
}

func (s *Session) login(userID string) error {
	if s.opts.Issuer == nil {
		return fmt.Errorf("no jwtSecret configured, use: set token <access_token>")
	}
	token, err := s.opts.Issuer.Issue(userID, s.opts.TokenTTL)
	if err != nil {
		return err
	}
	s.opts.State.UserID = userID
	s.opts.State.AccessToken = token
	if err := s.saveState(); err != nil {
		return err
	}
	s.printLine("logged in as %s", userID)
	return nil
}

func (s *Session) handleHTTP(ctx context.Context, cmd command.Command, params command.Params) error {
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.opts.Client.Do(ctx, req.Method, req.Path, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	if cmd.Key() == "duel create" || cmd.Key() == "duel accept" {
		s.rememberDuel(resp.Body)
	}
	return nil
}

func (s *Session) rememberDuel(body []byte) {
	var env struct {
		Code int `json:"code"`
		Data struct {
			ID         string `json:"id"`
			InviteCode string `json:"invite_code"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Code != int(pkgerrors.Success) || env.Data.ID == "" {
		return
	}
	s.opts.State.DuelID = env.Data.ID
	_ = s.saveState()
	s.printLine("current duel: %s", env.Data.ID)
	if env.Data.InviteCode != "" {
		s.printLine("invite code: %s", env.Data.InviteCode)
	}
}

func (s *Session) handleLive(ctx context.Context, cmd command.Command, params command.Params) error {
	switch cmd.Action {
	case "connect":
		return s.connect(ctx, params.Get("id"))
	case "close":
		if !s.closeLive() {
			return fmt.Errorf("no live session")
		}
		s.printLine("live session closed")
		return nil
	}
	s.mu.Lock()
	conn := s.conn
	s.seq++
	requestID := strconv.Itoa(s.seq)
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no live session, use: live connect")
	}
	frame, err := command.BuildFrame(cmd, params, requestID)
	if err != nil {
		return err
	}
	return conn.Send(frame)
}

func (s *Session) connect(ctx context.Context, duelID string) error {
	s.closeLive()
	wsURL, err := s.opts.Client.WebSocketURL("/ws/duels/"+url.PathEscape(duelID), url.Values{})
	if err != nil {
		return err
	}
	conn, err := live.Dial(ctx, wsURL, s.opts.State.AccessToken)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.liveDuel = duelID
	s.mu.Unlock()

	s.opts.State.DuelID = duelID
	_ = s.saveState()
	s.printLine("connected to duel %s", duelID)
	go s.pump(conn)
	return nil
}

func (s *Session) pump(conn *live.Conn) {
	for msg := range conn.Events() {
		s.printLine("%s", live.Format(msg))
	}
	if err := conn.Err(); err != nil {
		s.printLine("live session ended: %v", err)
	}
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.liveDuel = ""
	}
	s.mu.Unlock()
}

func (s *Session) closeLive() bool {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.liveDuel = ""
	s.mu.Unlock()
	if conn == nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (s *Session) saveState() error {
	if s.opts.StatePath == "" {
		return nil
	}
	return state.Save(s.opts.StatePath, *s.opts.State)
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration.Round(time.Millisecond))
	if len(resp.Body) == 0 {
		return
	}
	if s.opts.Pretty {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout|token|user|duel <value> | show")
	for _, cmd := range command.Sorted(s.opts.Commands) {
		s.printLine("  %-18s %s", cmd.Key(), cmd.Help)
	}
	s.printLine("examples:")
	s.printLine("  login dev user=alice")
	s.printLine("  duel create task=two-sum private=true")
	s.printLine("  live connect")
	s.printLine("  live submit file=./solution.py")
}

func (s *Session) printLine(format string, args ...interface{}) {
	if s.opts.Out == nil {
		return
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	_, _ = fmt.Fprintf(s.opts.Out, format+"\n", args...)
}
