// Package logging provides structured logging for the DALI service.
//
// It wraps log/slog. Every entry carries service and version fields, and
// components add their own with Component or With.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log secrets such as the JWT secret or MQTT password.
package logging
