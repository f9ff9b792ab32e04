// Package mcp exposes coaching sessions as MCP tools over stdio.
//
// The server uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and registers coach_message, coach_session and coach_phase. Tool errors are
// returned as tool results with IsError set, so MCP clients can show the
// message and decide whether to retry.
package mcp
