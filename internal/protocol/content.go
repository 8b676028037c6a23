package protocol

import "encoding/json"

// Content is carried in tool results, prompt messages, and resource reads.
// It is a closed set of three variants distinguished by "type".
type Content struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	// resource
	ResourceURI string `json:"resourceUri,omitempty"`
}

// TextContent builds a text content block.
func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// ImageContent builds a base64 image content block.
func ImageContent(base64Data, mimeType string) Content {
	return Content{Type: "image", Data: base64Data, MimeType: mimeType}
}

// ResourceContent builds a resource-reference content block.
func ResourceContent(uri, text, mimeType string) Content {
	return Content{Type: "resource", ResourceURI: uri, Text: text, MimeType: mimeType}
}

// ToolResult is the result of tools/call. Provider failures are surfaced
// here with IsError=true inside a *successful* JSON-RPC response, never as
// a JSON-RPC error; the calling model is expected to reason about them.
type ToolResult struct {
	Content []Content      `json:"content"`
	IsError bool           `json:"isError,omitempty"`
	Meta    map[string]any `json:"_meta,omitempty"`
}

// ResourceContents is the body of a resources/read result. MimeType may be
// absent and exactly one of Text/Blob is set; Blob holds base64 data for
// binary resources.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// PromptMessage is one role-tagged message in a prompts/get result.
type PromptMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Implementation identifies a client or server endpoint (clientInfo /
// serverInfo in the initialize payload).
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities is the advertised feature-bit set exchanged at
// initialize.
type Capabilities struct {
	Tools     *ToolsCapability     `json:"tools,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Prompts   *PromptsCapability   `json:"prompts,omitempty"`
	Sampling  json.RawMessage      `json:"sampling,omitempty"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeParams is the params of the initialize request.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// InitializeResult is the result of the initialize request. Instructions
// is optional free-form guidance for the connecting host's model.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ServerInfo      Implementation `json:"serverInfo"`
	Instructions    string         `json:"instructions,omitempty"`
}

// Wire method names. These strings are fixed by the protocol.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"

	MethodToolsList = "tools/list"
	MethodToolsCall = "tools/call"

	MethodResourcesList          = "resources/list"
	MethodResourcesRead          = "resources/read"
	MethodResourcesSubscribe     = "resources/subscribe"
	MethodResourcesUnsubscribe   = "resources/unsubscribe"
	MethodResourcesTemplatesList = "resources/templates/list"

	MethodPromptsList = "prompts/list"
	MethodPromptsGet  = "prompts/get"

	MethodCompletionComplete = "completion/complete"

	NotificationToolsListChanged     = "notifications/tools/list_changed"
	NotificationResourcesListChanged = "notifications/resources/list_changed"
	NotificationPromptsListChanged   = "notifications/prompts/list_changed"
	NotificationProgress             = "notifications/progress"
	NotificationMessage              = "notifications/message"
	NotificationCancelled            = "notifications/cancelled"
	NotificationResourcesUpdated     = "notifications/resources/updated"
)
