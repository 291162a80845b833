package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	isatty "github.com/mattn/go-isatty"
	"github.com/mattn/go-tty"
)

// interactive reports whether stdin/stdout are attached to a real
// terminal, matching the teacher's isTerminal check in cli/global.go.
func interactive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
}

var (
	styleLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	styleValue = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
)

func printField(label, value string) {
	fmt.Printf("%s %s\n", styleLabel.Render(label+":"), styleValue.Render(value))
}

// pickEventID prompts the advocate to choose one of the pending events
// with huh's select widget, matching the teacher's pickAwsProfile2 shape.
func pickEventID(summaries []string) (string, error) {
	var chosen string
	opts := make([]huh.Option[string], 0, len(summaries))
	for _, s := range summaries {
		opts = append(opts, huh.NewOption(s, s))
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Choose a pending break-glass event:").
				Options(opts...).
				Value(&chosen),
		),
	).WithHeight(len(summaries) + 4)

	if err := form.Run(); err != nil {
		return "", err
	}
	return strings.SplitN(chosen, " ", 2)[0], nil
}

// readOTPCode reads a 6-digit OTP code from the controlling TTY without
// echoing keystrokes, digit by digit, via mattn/go-tty's raw-mode reader
// (the same non-echo posture as the teacher's term.ReadPassword, applied
// to a short numeric code instead of a passphrase).
func readOTPCode() (string, error) {
	t, err := tty.Open()
	if err != nil {
		return "", fmt.Errorf("open tty: %w", err)
	}
	defer t.Close()

	fmt.Fprint(os.Stderr, "Enter OTP code: ")
	var b strings.Builder
	for b.Len() < 6 {
		r, err := t.ReadRune()
		if err != nil {
			return "", fmt.Errorf("read otp digit: %w", err)
		}
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			fmt.Fprint(os.Stderr, "*")
		case r == '\r' || r == '\n':
			if b.Len() > 0 {
				goto done
			}
		case r == 3: // Ctrl-C
			return "", fmt.Errorf("otp entry cancelled")
		}
	}
done:
	fmt.Fprintln(os.Stderr)
	return b.String(), nil
}

// confirmDenial asks for an explicit yes/no before a deny call goes out,
// matching the teacher's survey.AskOne confirmation pattern.
func confirmDenial(eventID string) (bool, error) {
	confirmed := false
	prompt := &survey.Confirm{
		Message: fmt.Sprintf("Deny break-glass event %s? This cannot be undone.", eventID),
		Default: false,
	}
	if err := survey.AskOne(prompt, &confirmed); err != nil {
		return false, err
	}
	return confirmed, nil
}

func askPOAID() (string, error) {
	var poaID string
	prompt := &survey.Input{Message: "POA ID:"}
	if err := survey.AskOne(prompt, &poaID, survey.WithValidator(survey.Required)); err != nil {
		return "", err
	}
	return poaID, nil
}

func askDenialReason() (string, error) {
	var reason string
	prompt := &survey.Input{Message: "Denial reason:"}
	if err := survey.AskOne(prompt, &reason, survey.WithValidator(survey.Required)); err != nil {
		return "", err
	}
	return reason, nil
}
