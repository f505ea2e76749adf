package models

import "strings"

// CommandType enumerates the operator actions accepted over the chat channel.
type CommandType string

const (
	CommandStatus  CommandType = "status"
	CommandAdvance CommandType = "advance"
	CommandCancel  CommandType = "cancel"
	CommandLoss    CommandType = "loss"
	CommandSilence CommandType = "silence"
	CommandUnknown CommandType = "unknown"
)

// Command represents a parsed operator instruction extracted from chat text.
type Command struct {
	Type CommandType
	Raw  string
	Args []string
}

// ParseCommand derives a Command instance from free-form text messages.
func ParseCommand(message string) Command {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return Command{Type: CommandUnknown, Raw: message}
	}

	// Record ids and reasons keep their case; only the verb is normalized.
	tokens := strings.Fields(trimmed)
	cmd := Command{Raw: message}

	head := strings.ToLower(strings.TrimPrefix(tokens[0], "/"))
	switch head {
	case string(CommandStatus), "status?":
		cmd.Type = CommandStatus
	case string(CommandAdvance), "next":
		cmd.Type = CommandAdvance
	case string(CommandCancel):
		cmd.Type = CommandCancel
	case string(CommandLoss):
		cmd.Type = CommandLoss
	case string(CommandSilence), "mute":
		cmd.Type = CommandSilence
	default:
		cmd.Type = CommandUnknown
	}

	if len(tokens) > 1 {
		cmd.Args = tokens[1:]
	}

	return cmd
}
