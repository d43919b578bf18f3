// Package logx configures tokbot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured, rotated via lumberjack
//   - Optional remote sink (min-level + rate limiting), e.g. Telegram
package logx
