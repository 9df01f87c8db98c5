// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package protocol defines the typed LSP shapes exchanged with a backend.
//
// Each method the client sends or accepts has explicit params and result
// types. Results that the protocol allows in several forms (hover contents,
// definition locations, completion lists, document sync options) are
// normalised by the Parse* helpers and capability accessors so callers see
// one shape.
package protocol

import "encoding/json"

// Method names used by the client.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"
	MethodShutdown    = "shutdown"
	MethodExit        = "exit"
	MethodCancel      = "$/cancelRequest"
	MethodProgress    = "$/progress"

	MethodDidOpen            = "textDocument/didOpen"
	MethodDidChange          = "textDocument/didChange"
	MethodDidClose           = "textDocument/didClose"
	MethodDidSave            = "textDocument/didSave"
	MethodHover              = "textDocument/hover"
	MethodDefinition         = "textDocument/definition"
	MethodCompletion         = "textDocument/completion"
	MethodPublishDiagnostics = "textDocument/publishDiagnostics"

	MethodExecuteCommand = "workspace/executeCommand"
	MethodApplyEdit      = "workspace/applyEdit"
	MethodConfiguration  = "workspace/configuration"

	MethodLogMessage  = "window/logMessage"
	MethodShowMessage = "window/showMessage"

	MethodRegisterCapability   = "client/registerCapability"
	MethodUnregisterCapability = "client/unregisterCapability"
)

// =============================================================================
// POSITION & RANGE TYPES
// =============================================================================

// Position is a zero-based line and UTF-16 code unit offset.
type Position struct {
	// Line is the 0-indexed line number.
	Line int `json:"line" validate:"gte=0"`

	// Character is the 0-indexed UTF-16 offset within the line.
	Character int `json:"character" validate:"gte=0"`
}

// Range is a half-open span in a text document.
type Range struct {
	// Start is the inclusive start position.
	Start Position `json:"start"`

	// End is the exclusive end position.
	End Position `json:"end"`
}

// Before reports whether p comes strictly before other.
func (p Position) Before(other Position) bool {
	return p.Line < other.Line || (p.Line == other.Line && p.Character < other.Character)
}

// Location is a range inside a document.
type Location struct {
	// URI is the document URI.
	URI string `json:"uri"`

	// Range is the range within the document.
	Range Range `json:"range"`
}

// LocationLink links an origin span to a target location.
type LocationLink struct {
	// OriginSelectionRange is the span in the source that was used.
	OriginSelectionRange *Range `json:"originSelectionRange,omitempty"`

	// TargetURI is the target document URI.
	TargetURI string `json:"targetUri"`

	// TargetRange is the full range of the target.
	TargetRange Range `json:"targetRange"`

	// TargetSelectionRange is the precise range to reveal.
	TargetSelectionRange Range `json:"targetSelectionRange"`
}

// =============================================================================
// DOCUMENT IDENTIFIERS
// =============================================================================

// TextDocumentIdentifier identifies a text document by URI.
type TextDocumentIdentifier struct {
	URI string `json:"uri" validate:"required,uri"`
}

// TextDocumentItem is an opened document with its content.
type TextDocumentItem struct {
	URI        string `json:"uri" validate:"required,uri"`
	LanguageID string `json:"languageId" validate:"required"`
	Version    int    `json:"version" validate:"gte=0"`
	Text       string `json:"text"`
}

// VersionedTextDocumentIdentifier identifies a specific document version.
type VersionedTextDocumentIdentifier struct {
	URI     string `json:"uri" validate:"required,uri"`
	Version int    `json:"version" validate:"gte=0"`
}

// OptionalVersionedTextDocumentIdentifier identifies a document whose
// version may be unknown (null).
type OptionalVersionedTextDocumentIdentifier struct {
	URI     string `json:"uri"`
	Version *int   `json:"version"`
}

// =============================================================================
// DOCUMENT SYNCHRONIZATION
// =============================================================================

// DidOpenTextDocumentParams is sent with textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidChangeTextDocumentParams is sent with textDocument/didChange.
type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges" validate:"min=1,dive"`
}

// TextDocumentContentChangeEvent replaces Range with Text, or the whole
// document when Range is nil.
type TextDocumentContentChangeEvent struct {
	// Range is the replaced range. Nil means full-text replacement.
	Range *Range `json:"range,omitempty"`

	// RangeLength is deprecated and never sent by this client.
	RangeLength *int `json:"rangeLength,omitempty"`

	// Text is the new text of the range or document.
	Text string `json:"text"`
}

// DidCloseTextDocumentParams is sent with textDocument/didClose.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// DidSaveTextDocumentParams is sent with textDocument/didSave.
type DidSaveTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`

	// Text is included when the server asked for it.
	Text *string `json:"text,omitempty"`
}

// =============================================================================
// POSITION REQUESTS
// =============================================================================

// TextDocumentPositionParams identifies a position in a text document.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// HoverParams is sent with textDocument/hover.
type HoverParams = TextDocumentPositionParams

// DefinitionParams is sent with textDocument/definition.
type DefinitionParams = TextDocumentPositionParams

// CompletionParams is sent with textDocument/completion.
type CompletionParams struct {
	TextDocumentPositionParams

	// Context is optional trigger information.
	Context *CompletionContext `json:"context,omitempty"`
}

// CompletionContext describes how completion was triggered.
type CompletionContext struct {
	TriggerKind      int    `json:"triggerKind" validate:"oneof=1 2 3"`
	TriggerCharacter string `json:"triggerCharacter,omitempty"`
}

// MarkupKind is the format of MarkupContent.
type MarkupKind string

const (
	PlainText MarkupKind = "plaintext"
	Markdown  MarkupKind = "markdown"
)

// MarkupContent is documentation content.
type MarkupContent struct {
	Kind  MarkupKind `json:"kind"`
	Value string     `json:"value"`
}

// Hover is a normalised hover result.
type Hover struct {
	// Contents is the hover text, whatever form the backend used.
	Contents MarkupContent `json:"contents"`

	// Range is the range the hover applies to.
	Range *Range `json:"range,omitempty"`
}

// CompletionItemKind classifies a completion item.
type CompletionItemKind int

// Completion item kinds used by Solidity backends.
const (
	CompletionKindText     CompletionItemKind = 1
	CompletionKindMethod   CompletionItemKind = 2
	CompletionKindFunction CompletionItemKind = 3
	CompletionKindField    CompletionItemKind = 5
	CompletionKindVariable CompletionItemKind = 6
	CompletionKindClass    CompletionItemKind = 7
	CompletionKindKeyword  CompletionItemKind = 14
	CompletionKindSnippet  CompletionItemKind = 15
	CompletionKindStruct   CompletionItemKind = 22
	CompletionKindEvent    CompletionItemKind = 23
)

// CompletionItem is one completion proposal.
type CompletionItem struct {
	Label         string             `json:"label"`
	Kind          CompletionItemKind `json:"kind,omitempty"`
	Detail        string             `json:"detail,omitempty"`
	Documentation json.RawMessage    `json:"documentation,omitempty"`
	SortText      string             `json:"sortText,omitempty"`
	FilterText    string             `json:"filterText,omitempty"`
	InsertText    string             `json:"insertText,omitempty"`
	TextEdit      *TextEdit          `json:"textEdit,omitempty"`
}

// CompletionList is a normalised completion result.
type CompletionList struct {
	IsIncomplete bool             `json:"isIncomplete"`
	Items        []CompletionItem `json:"items"`
}

// =============================================================================
// EDITS & COMMANDS
// =============================================================================

// TextEdit replaces Range with NewText.
type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

// TextDocumentEdit is a set of edits against one document version.
type TextDocumentEdit struct {
	TextDocument OptionalVersionedTextDocumentIdentifier `json:"textDocument"`
	Edits        []TextEdit                              `json:"edits"`
}

// WorkspaceEdit is a set of changes to many documents.
type WorkspaceEdit struct {
	// Changes maps a URI to unversioned edits.
	Changes map[string][]TextEdit `json:"changes,omitempty"`

	// DocumentChanges are versioned edits, preferred over Changes.
	DocumentChanges []TextDocumentEdit `json:"documentChanges,omitempty"`
}

// ApplyWorkspaceEditParams is the params of workspace/applyEdit.
type ApplyWorkspaceEditParams struct {
	Label string        `json:"label,omitempty"`
	Edit  WorkspaceEdit `json:"edit"`
}

// ApplyWorkspaceEditResult answers workspace/applyEdit.
type ApplyWorkspaceEditResult struct {
	Applied       bool   `json:"applied"`
	FailureReason string `json:"failureReason,omitempty"`
}

// ExecuteCommandParams is sent with workspace/executeCommand.
type ExecuteCommandParams struct {
	Command   string            `json:"command" validate:"required"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
}

// =============================================================================
// WINDOW & CLIENT
// =============================================================================

// MessageType is the severity of a window message.
type MessageType int

const (
	MessageError   MessageType = 1
	MessageWarning MessageType = 2
	MessageInfo    MessageType = 3
	MessageLog     MessageType = 4
)

// String returns the lower-case name of the message type.
func (t MessageType) String() string {
	switch t {
	case MessageError:
		return "error"
	case MessageWarning:
		return "warning"
	case MessageInfo:
		return "info"
	case MessageLog:
		return "log"
	default:
		return "unknown"
	}
}

// LogMessageParams is the params of window/logMessage.
type LogMessageParams struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// ShowMessageParams is the params of window/showMessage.
type ShowMessageParams = LogMessageParams

// CancelParams is the params of $/cancelRequest.
type CancelParams struct {
	ID json.RawMessage `json:"id"`
}

// Registration is one dynamic capability registration.
type Registration struct {
	ID              string          `json:"id"`
	Method          string          `json:"method"`
	RegisterOptions json.RawMessage `json:"registerOptions,omitempty"`
}

// RegistrationParams is the params of client/registerCapability.
type RegistrationParams struct {
	Registrations []Registration `json:"registrations"`
}

// ConfigurationItem is one section requested by workspace/configuration.
type ConfigurationItem struct {
	ScopeURI string `json:"scopeUri,omitempty"`
	Section  string `json:"section,omitempty"`
}

// ConfigurationParams is the params of workspace/configuration.
type ConfigurationParams struct {
	Items []ConfigurationItem `json:"items"`
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

// DiagnosticSeverity ranks a diagnostic.
type DiagnosticSeverity int

const (
	SeverityError       DiagnosticSeverity = 1
	SeverityWarning     DiagnosticSeverity = 2
	SeverityInformation DiagnosticSeverity = 3
	SeverityHint        DiagnosticSeverity = 4
)

// String returns the lower-case severity name.
func (s DiagnosticSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "info"
	case SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

// Diagnostic is one positioned finding.
type Diagnostic struct {
	Range    Range              `json:"range"`
	Severity DiagnosticSeverity `json:"severity,omitempty"`
	Code     json.RawMessage    `json:"code,omitempty"`
	Source   string             `json:"source,omitempty"`
	Message  string             `json:"message"`
	Data     json.RawMessage    `json:"data,omitempty"`
}

// PublishDiagnosticsParams is the params of textDocument/publishDiagnostics.
type PublishDiagnosticsParams struct {
	URI         string       `json:"uri"`
	Version     *int         `json:"version,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}
