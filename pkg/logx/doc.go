// Package logx configures remindbot's structured logging.
//
// A small value type (logx.Logger) wraps zerolog and keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional admin-chat sink (min-level + rate limiting) for operator alerts
package logx
