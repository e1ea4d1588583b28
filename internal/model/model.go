// Package model defines data structures shared across parmira.
//
// This package contains:
//   - JSON-RPC 2.0: request/response/error structures
//   - MCP: initialize / tools/list / tools/call payloads
//   - Memory: short-term rows and long-term documents
//   - Config: agent, tool server and store configuration
package model
