// Package mcp implements the server side of MCP (Model Context
// Protocol) for seqthink, exposing the sequential thinking tool to MCP
// clients.
//
// MCP uses JSON-RPC 2.0. [Server] dispatches the lifecycle, tools and
// resources methods; [Handler] serves it over streamable HTTP with
// JSON responses and session tracking. Tools are supplied by a
// [ToolSet]; [ThinkingTools] binds the thinking processor.
//
// Server-initiated streams (SSE) and the stdio transport are not
// implemented.
package mcp
