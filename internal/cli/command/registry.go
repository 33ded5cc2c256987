package command

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"codeduel/internal/duel/gateway"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service: "login", Action: "dev", Kind: KindLocal,
			Help: "mint a local development token",
			Fields: []Field{
				{Name: "user", Aliases: []string{"user_id"}, Prompt: "user_id", Type: FieldString, Required: true},
			},
		},
		{
			Service: "task", Action: "list", Kind: KindHTTP,
			Method: "GET", PathTemplate: "/api/v1/tasks",
			Help: "list task ids",
		},
		{
			Service: "duel", Action: "create", Kind: KindHTTP,
			Method: "POST", PathTemplate: "/api/v1/duels",
			Help: "open a duel as the logged-in user and remember it as current",
			Fields: []Field{
				{Name: "task", Aliases: []string{"task_id"}, Prompt: "task_id", Type: FieldString, Required: true},
				{Name: "private", Aliases: []string{"is_private"}, Prompt: "private", Type: FieldBool},
				{Name: "duel", Aliases: []string{"duel_id"}, Prompt: "duel_id", Type: FieldString},
			},
		},
		{
			Service: "duel", Action: "accept", Kind: KindHTTP,
			Method: "POST", PathTemplate: "/api/v1/duels/invites/:code/accept",
			Help: "join a private duel by invite code",
			Fields: []Field{
				{Name: "code", Aliases: []string{"invite"}, Prompt: "invite_code", Type: FieldString, Required: true},
			},
		},
		{
			Service: "duel", Action: "get", Kind: KindHTTP,
			Method: "GET", PathTemplate: "/api/v1/duels/:id",
			Help: "show a duel snapshot",
			Fields: []Field{
				{Name: "id", Aliases: []string{"duel", "duel_id"}, Prompt: "duel_id", Type: FieldString, Required: true},
			},
		},
		{
			Service: "submission", Action: "get", Kind: KindHTTP,
			Method: "GET", PathTemplate: "/api/v1/submissions/:id",
			Help: "show a submission status",
			Fields: []Field{
				{Name: "id", Aliases: []string{"submission_id"}, Prompt: "submission_id", Type: FieldString, Required: true},
			},
		},
		{
			Service: "judge", Action: "stats", Kind: KindHTTP,
			Method: "GET", PathTemplate: "/api/v1/judge/stats",
			Help: "show judging queue depth",
		},
		{
			Service: "player", Action: "stats", Kind: KindHTTP,
			Method: "GET", PathTemplate: "/api/v1/players/:id/stats",
			Help: "show rating and record of a player",
			Fields: []Field{
				{Name: "id", Aliases: []string{"user", "user_id"}, Prompt: "user_id", Type: FieldString, Required: true},
			},
		},
		{
			Service: "live", Action: "connect", Kind: KindLive,
			Help: "open the websocket session of a duel",
			Fields: []Field{
				{Name: "id", Aliases: []string{"duel", "duel_id"}, Prompt: "duel_id", Type: FieldString, Required: true},
			},
		},
		{Service: "live", Action: "join", Kind: KindLive, Help: "take a seat in the connected duel"},
		{Service: "live", Action: "ready", Kind: KindLive, Help: "mark yourself ready"},
		{
			Service: "live", Action: "submit", Kind: KindLive,
			Help: "submit a solution file",
			Fields: []Field{
				{Name: "file", Aliases: []string{"source_file"}, Prompt: "source file", Type: FieldFile, Required: true},
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString},
			},
		},
		{Service: "live", Action: "reconnect", Kind: KindLive, Help: "reclaim your seat after a drop"},
		{Service: "live", Action: "ping", Kind: KindLive, Help: "keep the session alive"},
		{Service: "live", Action: "close", Kind: KindLive, Help: "close the websocket session"},
	}

	registry := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		registry[cmd.Key()] = cmd
	}
	return registry
}

// Sorted returns the commands ordered by key, for help output.
func Sorted(registry map[string]Command) []Command {
	out := make([]Command, 0, len(registry))
	for _, cmd := range registry {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Missing returns the required fields params does not provide.
func Missing(cmd Command, params Params) []Field {
	params.Canonicalize(cmd.Fields)
	var out []Field
	for _, field := range cmd.Fields {
		if field.Required && params.Get(field.Name) == "" {
			out = append(out, field)
		}
	}
	return out
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	if cmd.Kind != KindHTTP {
		return RequestSpec{}, fmt.Errorf("%s is not an HTTP command", cmd.Key())
	}
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}
	return RequestSpec{Method: cmd.Method, Path: path, Body: body}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	for _, key := range []string{"id", "code"} {
		placeholder := ":" + key
		if strings.Contains(path, placeholder) {
			value := params.Get(key)
			if value == "" {
				return "", fmt.Errorf("missing path parameter: %s", key)
			}
			path = strings.ReplaceAll(path, placeholder, value)
		}
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	switch cmd.Key() {
	case "duel create":
		private, err := ParseBool(params.Get("private"))
		if err != nil {
			return nil, fmt.Errorf("invalid private: %w", err)
		}
		payload := map[string]interface{}{
			"task_id":    params.Get("task"),
			"is_private": private,
		}
		if id := params.Get("duel"); id != "" {
			payload["duel_id"] = id
		}
		return payload, nil
	}
	return nil, nil
}

// BuildFrame creates the websocket frame of a live command.
// connect and close are handled by the session itself and have no frame.
func BuildFrame(cmd Command, params Params, requestID string) (gateway.ClientMessage, error) {
	params.Canonicalize(cmd.Fields)
	msg := gateway.ClientMessage{RequestID: requestID}
	switch cmd.Action {
	case "join":
		msg.Type = gateway.TypeJoinDuel
	case "ready":
		msg.Type = gateway.TypeReadyUp
	case "reconnect":
		msg.Type = gateway.TypeReconnect
	case "ping":
		msg.Type = gateway.TypePing
	case "submit":
		path := params.Get("file")
		code, err := ReadFile(path)
		if err != nil {
			return msg, err
		}
		language := params.Get("language")
		if language == "" {
			language = LanguageFromPath(path)
		}
		if language == "" {
			return msg, fmt.Errorf("language is required for %s", filepath.Base(path))
		}
		payload, err := json.Marshal(gateway.SubmitPayload{Code: code, Language: language})
		if err != nil {
			return msg, fmt.Errorf("marshal submit payload failed: %w", err)
		}
		msg.Type = gateway.TypeSubmitSolution
		msg.Payload = payload
	default:
		return msg, fmt.Errorf("%s has no frame", cmd.Key())
	}
	return msg, nil
}

var extensionLanguages = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".java": "java",
	".cpp":  "cpp",
	".cc":   "cpp",
	".cs":   "csharp",
}

// LanguageFromPath guesses the language id from a file extension.
func LanguageFromPath(path string) string {
	return extensionLanguages[strings.ToLower(filepath.Ext(path))]
}
