package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/vkarpenko/apphub-cli/internal/chat"
)

// runSend sends a message through the pipeline. When the sensitive-content
// gate fires it prompts on in and resolves the gate with the user's choice,
// unless sendOriginal skips the prompt.
func runSend(ctx context.Context, p *chat.Pipeline, msg string, sendOriginal bool, in io.Reader, out io.Writer) error {
	res, err := p.Send(ctx, msg)
	if err != nil {
		return err
	}

	if res.Gated {
		if sendOriginal {
			res, err = p.ConfirmOriginal(ctx)
		} else {
			res, err = resolveGate(ctx, p, res.Gate, in, out)
		}
		if err != nil {
			return err
		}
		if res.Assistant == nil { // cancelled
			return nil
		}
	}

	fmt.Fprintf(out, "assistant: %s\n", res.Assistant.Content)
	for _, tc := range res.Assistant.ToolCalls {
		fmt.Fprintf(out, "  tool %s/%s ok=%v (%dms)\n", tc.AppName, tc.ToolName, tc.Success, tc.DurationMS)
	}
	return nil
}

// resolveGate asks the user what to do with a message that matched the
// sensitive-content detector. An empty Assistant in the result means the
// send was cancelled.
func resolveGate(ctx context.Context, p *chat.Pipeline, g *chat.Gate, in io.Reader, out io.Writer) (chat.SendResult, error) {
	fmt.Fprintln(out, "the message appears to contain sensitive content:")
	for _, m := range g.Matches {
		fmt.Fprintf(out, "  %s: %s\n", m.Kind, m.MaskedText)
	}
	fmt.Fprintf(out, "masked version: %s\n", g.Masked)
	fmt.Fprint(out, "send [o]riginal, send [m]asked, or [c]ancel? ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		p.Cancel()
		return chat.SendResult{}, nil
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "o", "original":
		return p.ConfirmOriginal(ctx)
	case "m", "masked":
		return p.ConfirmMasked(ctx)
	default:
		p.Cancel()
		fmt.Fprintln(out, "cancelled")
		return chat.SendResult{}, nil
	}
}
