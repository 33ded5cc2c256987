package gateway

import (
	"encoding/json"

	"codeduel/internal/duel/model"
	appErr "codeduel/pkg/errors"
)

// Inbound message types.
const (
	TypeJoinDuel       = "JOIN_DUEL"
	TypeReadyUp        = "READY_UP"
	TypeSubmitSolution = "SUBMIT_SOLUTION"
	TypeReconnect      = "RECONNECT"
	TypePing           = "PING"
)

// Outbound message types besides model.EventType values.
const (
	TypeError = "ERROR"
	TypePong  = "PONG"
)

// ClientMessage is a frame sent by a player.
type ClientMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SubmitPayload is the payload of SUBMIT_SOLUTION.
type SubmitPayload struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// ServerMessage is a frame sent to a player.
type ServerMessage struct {
	Type      string                   `json:"type"`
	DuelID    string                   `json:"duel_id,omitempty"`
	RequestID string                   `json:"request_id,omitempty"`
	Duel      *model.Duel              `json:"duel,omitempty"`
	Verdict   *model.SubmissionVerdict `json:"verdict,omitempty"`
	Finished  *model.FinishedPayload   `json:"finished,omitempty"`
	Error     *ErrorPayload            `json:"error,omitempty"`
}

// ErrorPayload describes a rejected request.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// fromOutbound converts an event for clients. Hidden test cases never leave the server.
func fromOutbound(ev model.Outbound) ServerMessage {
	msg := ServerMessage{
		Type:     string(ev.Type),
		DuelID:   ev.DuelID,
		Verdict:  ev.Verdict,
		Finished: ev.Finished,
	}
	if ev.Duel != nil {
		msg.Duel = ev.Duel.ForClient()
	}
	return msg
}

func errorMessage(duelID, requestID string, err error) ServerMessage {
	e := appErr.GetError(err)
	return ServerMessage{
		Type:      TypeError,
		DuelID:    duelID,
		RequestID: requestID,
		Error:     &ErrorPayload{Code: int(e.Code), Message: e.Error()},
	}
}
