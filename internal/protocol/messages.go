package protocol

import "encoding/json"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name,omitempty"`
	Language        string `json:"language,omitempty"`
	// Selection, when set, is imported before the first STATE is sent.
	Selection json.RawMessage `json:"selection,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	Language        string      `json:"language"`
	Catalog         CatalogInfo `json:"catalog"`
	Limits          Limits      `json:"limits"`
}

type CatalogInfo struct {
	Version   string   `json:"version"`
	Digest    string   `json:"digest"`
	Languages []string `json:"languages"`
	Recipes   int      `json:"recipes"`
}

type Limits struct {
	EditsPerSecond float64 `json:"edits_per_second"`
	EditBurst      int     `json:"edit_burst"`
}

// EDIT (client -> server)
type EditMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Ref             string          `json:"ref,omitempty"`
	Op              string          `json:"op"`
	Recipe          string          `json:"recipe,omitempty"`
	Item            string          `json:"item,omitempty"`
	Skill           string          `json:"skill,omitempty"`
	Table           string          `json:"table,omitempty"`
	Value           string          `json:"value,omitempty"`
	Lavish          bool            `json:"lavish,omitempty"`
	Language        string          `json:"language,omitempty"`
	Document        json.RawMessage `json:"document,omitempty"`
}

// STATE (server -> client)
type StateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Ref             string `json:"ref,omitempty"`
	View            any    `json:"view"`
}

// EXPORT (client -> server) is a BaseMessage; SELECTION carries the answer.
type SelectionMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Ref             string `json:"ref,omitempty"`
	Document        any    `json:"document"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Ref             string   `json:"ref,omitempty"`
	Code            string   `json:"code"`
	Message         string   `json:"message"`
	Cycle           []string `json:"cycle,omitempty"`
	Suggestions     []string `json:"suggestions,omitempty"`
}

func NewError(ref, code, message string) ErrorMsg {
	return ErrorMsg{
		Type:            TypeError,
		ProtocolVersion: Version,
		Ref:             ref,
		Code:            code,
		Message:         message,
	}
}
