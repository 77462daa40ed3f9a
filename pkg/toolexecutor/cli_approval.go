package toolexecutor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// CLIApprovalHandler handles approval requests via CLI prompts
type CLIApprovalHandler struct {
	reader io.Reader
	writer io.Writer
}

// NewCLIApprovalHandler creates a new CLI approval handler
func NewCLIApprovalHandler(reader io.Reader, writer io.Writer) *CLIApprovalHandler {
	return &CLIApprovalHandler{
		reader: reader,
		writer: writer,
	}
}

// RequestApproval prompts the user for approval via CLI
func (c *CLIApprovalHandler) RequestApproval(ctx context.Context, req ApprovalRequest) (ApprovalResponse, error) {
	c.displayApprovalRequest(req)

	responseChan := make(chan ApprovalResponse, 1)
	errorChan := make(chan error, 1)

	go func() {
		response, err := c.readUserInput(req)
		if err != nil {
			errorChan <- err
		} else {
			responseChan <- response
		}
	}()

	select {
	case response := <-responseChan:
		return response, nil

	case err := <-errorChan:
		return ApprovalResponse{}, err

	case <-ctx.Done():
		c.displayTimeout()
		return ApprovalResponse{
			Approved: false,
			Reason:   "timeout",
		}, ctx.Err()
	}
}

// displayApprovalRequest displays the approval request to the user
func (c *CLIApprovalHandler) displayApprovalRequest(req ApprovalRequest) {
	fmt.Fprintln(c.writer, "")
	fmt.Fprintln(c.writer, "╔════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.writer, "║              🔐 TOOL APPROVAL REQUIRED                        ║")
	fmt.Fprintln(c.writer, "╚════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.writer, "")
	fmt.Fprintf(c.writer, "  Tool:       %s\n", req.ToolName)
	fmt.Fprintf(c.writer, "  Category:   %s\n", req.Category)

	if req.SessionKey != "" {
		fmt.Fprintf(c.writer, "  Session:    %s\n", req.SessionKey)
	}

	if len(req.Parameters) > 0 {
		fmt.Fprintln(c.writer, "  Parameters:")
		if data, err := json.MarshalIndent(req.Parameters, "    ", "  "); err == nil {
			fmt.Fprintf(c.writer, "    %s\n", data)
		} else {
			for key, value := range req.Parameters {
				fmt.Fprintf(c.writer, "    %s: %v\n", key, value)
			}
		}
	}

	fmt.Fprintln(c.writer, "")
	fmt.Fprint(c.writer, "  Approve this tool call? [y/N/a(lways)]: ")
}

// readUserInput reads and parses user input
func (c *CLIApprovalHandler) readUserInput(req ApprovalRequest) (ApprovalResponse, error) {
	scanner := bufio.NewScanner(c.reader)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return ApprovalResponse{}, fmt.Errorf("failed to read input: %w", err)
		}
		// EOF or no input
		return ApprovalResponse{
			Approved: false,
			Reason:   "no input provided",
		}, nil
	}

	input := strings.TrimSpace(strings.ToLower(scanner.Text()))

	var response ApprovalResponse
	switch input {
	case "y", "yes":
		response = ApprovalResponse{
			Approved: true,
			Reason:   "approved by user",
		}
		c.displayApproved()

		log.Info().
			Str("tool", req.ToolName).
			Msg("Tool approved via CLI")

	case "a", "always":
		response = ApprovalResponse{
			Approved: true,
			Reason:   "approved by user for this and future calls",
			Remember: true,
		}
		c.displayApproved()

		log.Info().
			Str("tool", req.ToolName).
			Msg("Tool approved and remembered via CLI")

	case "n", "no", "":
		response = ApprovalResponse{
			Approved: false,
			Reason:   "denied by user",
		}
		c.displayDenied()

		log.Info().
			Str("tool", req.ToolName).
			Msg("Tool denied via CLI")

	default:
		response = ApprovalResponse{
			Approved: false,
			Reason:   fmt.Sprintf("invalid input: %s", input),
		}
		c.displayInvalidInput(input)

		log.Warn().
			Str("tool", req.ToolName).
			Str("input", input).
			Msg("Invalid input for approval")
	}

	return response, nil
}

// displayApproved displays approval confirmation
func (c *CLIApprovalHandler) displayApproved() {
	fmt.Fprintln(c.writer, "")
	fmt.Fprintln(c.writer, "  ✅ Tool call APPROVED")
	fmt.Fprintln(c.writer, "")
}

// displayDenied displays denial confirmation
func (c *CLIApprovalHandler) displayDenied() {
	fmt.Fprintln(c.writer, "")
	fmt.Fprintln(c.writer, "  ❌ Tool call DENIED")
	fmt.Fprintln(c.writer, "")
}

// displayInvalidInput displays invalid input message
func (c *CLIApprovalHandler) displayInvalidInput(input string) {
	fmt.Fprintln(c.writer, "")
	fmt.Fprintf(c.writer, "  ⚠️  Invalid input: %s (defaulting to DENY)\n", input)
	fmt.Fprintln(c.writer, "")
}

// displayTimeout displays timeout message
func (c *CLIApprovalHandler) displayTimeout() {
	fmt.Fprintln(c.writer, "")
	fmt.Fprintln(c.writer, "  ⏱️  Approval request TIMED OUT")
	fmt.Fprintln(c.writer, "")
}

// SetReader sets the input reader
func (c *CLIApprovalHandler) SetReader(reader io.Reader) {
	c.reader = reader
}

// SetWriter sets the output writer
func (c *CLIApprovalHandler) SetWriter(writer io.Writer) {
	c.writer = writer
}
