// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package protocol

// =============================================================================
// INITIALIZE TYPES
// =============================================================================

// InitializeParams is the params of the initialize request.
type InitializeParams struct {
	// ProcessID is the client process id. Null when unknown.
	ProcessID *int `json:"processId"`

	// ClientInfo names the client.
	ClientInfo *ClientInfo `json:"clientInfo,omitempty"`

	// RootURI is the workspace root. Null when no folder is open.
	RootURI *string `json:"rootUri" validate:"omitnil,uri"`

	// Capabilities describes what the client supports.
	Capabilities ClientCapabilities `json:"capabilities"`

	// InitializationOptions are passed through to the backend.
	InitializationOptions any `json:"initializationOptions,omitempty"`

	// Trace sets the initial trace level.
	Trace string `json:"trace,omitempty" validate:"omitempty,oneof=off messages verbose"`

	// WorkspaceFolders lists the open folders.
	WorkspaceFolders []WorkspaceFolder `json:"workspaceFolders,omitempty" validate:"dive"`
}

// ClientInfo names the client application.
type ClientInfo struct {
	Name    string `json:"name" validate:"required"`
	Version string `json:"version,omitempty"`
}

// WorkspaceFolder is one workspace root.
type WorkspaceFolder struct {
	URI  string `json:"uri" validate:"required,uri"`
	Name string `json:"name" validate:"required"`
}

// ClientCapabilities describes what the client supports.
type ClientCapabilities struct {
	TextDocument TextDocumentClientCapabilities `json:"textDocument"`
	Workspace    WorkspaceClientCapabilities    `json:"workspace"`
	Window       WindowClientCapabilities       `json:"window"`
}

// TextDocumentClientCapabilities describes text document support.
type TextDocumentClientCapabilities struct {
	Synchronization    *TextDocumentSyncClientCapabilities `json:"synchronization,omitempty"`
	Hover              *HoverClientCapabilities            `json:"hover,omitempty"`
	Definition         *DefinitionClientCapabilities       `json:"definition,omitempty"`
	Completion         *CompletionClientCapabilities       `json:"completion,omitempty"`
	PublishDiagnostics *PublishDiagnosticsCapabilities     `json:"publishDiagnostics,omitempty"`
}

// TextDocumentSyncClientCapabilities describes document sync support.
type TextDocumentSyncClientCapabilities struct {
	DidSave bool `json:"didSave,omitempty"`
}

// HoverClientCapabilities describes hover support.
type HoverClientCapabilities struct {
	ContentFormat []MarkupKind `json:"contentFormat,omitempty"`
}

// DefinitionClientCapabilities describes go-to-definition support.
type DefinitionClientCapabilities struct {
	LinkSupport bool `json:"linkSupport,omitempty"`
}

// CompletionClientCapabilities describes completion support.
type CompletionClientCapabilities struct {
	CompletionItem *CompletionItemCapabilities `json:"completionItem,omitempty"`
	ContextSupport bool                        `json:"contextSupport,omitempty"`
}

// CompletionItemCapabilities describes completion item support.
type CompletionItemCapabilities struct {
	SnippetSupport      bool         `json:"snippetSupport,omitempty"`
	DocumentationFormat []MarkupKind `json:"documentationFormat,omitempty"`
}

// PublishDiagnosticsCapabilities describes diagnostics support.
type PublishDiagnosticsCapabilities struct {
	RelatedInformation bool `json:"relatedInformation,omitempty"`
	VersionSupport     bool `json:"versionSupport,omitempty"`
}

// WorkspaceClientCapabilities describes workspace support.
type WorkspaceClientCapabilities struct {
	ApplyEdit        bool                             `json:"applyEdit,omitempty"`
	WorkspaceEdit    *WorkspaceEditClientCapabilities `json:"workspaceEdit,omitempty"`
	ExecuteCommand   *ExecuteCommandClientCapabilities `json:"executeCommand,omitempty"`
	Configuration    bool                             `json:"configuration,omitempty"`
	WorkspaceFolders bool                             `json:"workspaceFolders,omitempty"`
}

// WorkspaceEditClientCapabilities describes workspace edit support.
type WorkspaceEditClientCapabilities struct {
	DocumentChanges bool `json:"documentChanges,omitempty"`
}

// ExecuteCommandClientCapabilities describes executeCommand support.
type ExecuteCommandClientCapabilities struct {
	DynamicRegistration bool `json:"dynamicRegistration,omitempty"`
}

// WindowClientCapabilities describes window support.
type WindowClientCapabilities struct {
	WorkDoneProgress bool `json:"workDoneProgress,omitempty"`
}

// InitializeResult is the result of the initialize request.
type InitializeResult struct {
	// Capabilities is required. Nil means the backend omitted it.
	Capabilities *ServerCapabilities `json:"capabilities"`

	// ServerInfo is optional.
	ServerInfo *ServerInfo `json:"serverInfo,omitempty"`
}

// ServerInfo names the backend.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// =============================================================================
// SERVER CAPABILITIES
// =============================================================================

// ServerCapabilities describes what the backend supports.
//
// Provider fields are kept as decoded JSON because the protocol allows a
// boolean or an options object for each of them.
type ServerCapabilities struct {
	TextDocumentSync       any                    `json:"textDocumentSync,omitempty"`
	HoverProvider          any                    `json:"hoverProvider,omitempty"`
	DefinitionProvider     any                    `json:"definitionProvider,omitempty"`
	CompletionProvider     *CompletionOptions     `json:"completionProvider,omitempty"`
	ExecuteCommandProvider *ExecuteCommandOptions `json:"executeCommandProvider,omitempty"`
	Experimental           any                    `json:"experimental,omitempty"`
}

// CompletionOptions are the backend's completion options.
type CompletionOptions struct {
	TriggerCharacters []string `json:"triggerCharacters,omitempty"`
	ResolveProvider   bool     `json:"resolveProvider,omitempty"`
}

// ExecuteCommandOptions lists the commands the backend executes.
type ExecuteCommandOptions struct {
	Commands []string `json:"commands"`
}

// TextDocumentSyncKind is how document changes are sent.
type TextDocumentSyncKind int

const (
	SyncNone        TextDocumentSyncKind = 0
	SyncFull        TextDocumentSyncKind = 1
	SyncIncremental TextDocumentSyncKind = 2
)

// String returns the lower-case kind name.
func (k TextDocumentSyncKind) String() string {
	switch k {
	case SyncNone:
		return "none"
	case SyncFull:
		return "full"
	case SyncIncremental:
		return "incremental"
	default:
		return "unknown"
	}
}

// TextDocumentSyncOptions is the normalised textDocumentSync capability.
type TextDocumentSyncOptions struct {
	// OpenClose enables didOpen and didClose.
	OpenClose bool

	// Change selects how didChange carries edits.
	Change TextDocumentSyncKind

	// Save enables didSave.
	Save bool

	// IncludeText asks for the full text in didSave.
	IncludeText bool
}

// SyncOptions normalises TextDocumentSync.
//
// Description:
//
//	A bare kind enables open/close and save whenever it is not None; many
//	backends advertise only a kind yet act on didSave. An options object is
//	taken literally. An absent capability means no synchronization.
func (c *ServerCapabilities) SyncOptions() TextDocumentSyncOptions {
	switch v := c.TextDocumentSync.(type) {
	case float64:
		kind := TextDocumentSyncKind(v)
		on := kind != SyncNone
		return TextDocumentSyncOptions{OpenClose: on, Change: kind, Save: on}
	case map[string]any:
		opts := TextDocumentSyncOptions{}
		if b, ok := v["openClose"].(bool); ok {
			opts.OpenClose = b
		}
		if n, ok := v["change"].(float64); ok {
			opts.Change = TextDocumentSyncKind(n)
		}
		switch save := v["save"].(type) {
		case bool:
			opts.Save = save
		case map[string]any:
			opts.Save = true
			if b, ok := save["includeText"].(bool); ok {
				opts.IncludeText = b
			}
		}
		return opts
	default:
		return TextDocumentSyncOptions{}
	}
}

// HasHoverProvider returns true if hover is supported.
func (c *ServerCapabilities) HasHoverProvider() bool {
	return enabled(c.HoverProvider)
}

// HasDefinitionProvider returns true if definition is supported.
func (c *ServerCapabilities) HasDefinitionProvider() bool {
	return enabled(c.DefinitionProvider)
}

// HasCompletionProvider returns true if completion is supported.
func (c *ServerCapabilities) HasCompletionProvider() bool {
	return c.CompletionProvider != nil
}

// HasExecuteCommandProvider returns true if workspace/executeCommand is
// supported.
func (c *ServerCapabilities) HasExecuteCommandProvider() bool {
	return c.ExecuteCommandProvider != nil
}

// SupportsCommand reports whether the backend advertised command.
func (c *ServerCapabilities) SupportsCommand(command string) bool {
	if c.ExecuteCommandProvider == nil {
		return false
	}
	for _, cmd := range c.ExecuteCommandProvider.Commands {
		if cmd == command {
			return true
		}
	}
	return false
}

func enabled(provider any) bool {
	return provider != nil && provider != false
}
