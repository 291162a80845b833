// Command advocate-cli is the local tool a Trusted Advocate uses to
// review and resolve break-glass escalations raised by aegis-gatewayd
// (spec §6 / C11). Adapted from the teacher's cli package: kingpin
// subcommands, huh/lipgloss interactive pickers, survey confirmation
// before an irreversible action, talking to the daemon over its
// peer-credentialed Unix control socket rather than calling AWS
// directly.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/aegistrust/proxy/breakglass"
	"github.com/aegistrust/proxy/vault"
)

// Version is provided at compile time.
var Version = "dev"

func main() {
	app := kingpin.New("advocate-cli", "Review and resolve break-glass escalations as a Trusted Advocate")
	app.Version(Version)

	socketPath := app.Flag("socket", "aegis-gatewayd control socket path").Required().String()
	advocateID := app.Flag("advocate-id", "this advocate's ID").Required().String()

	pendingCmd := app.Command("pending", "List pending break-glass events for a POA")
	pendingPOA := pendingCmd.Arg("poa-id", "POA ID to list events for").Required().String()

	approveCmd := app.Command("approve", "Approve a pending break-glass event (OTP, plus liveness if required)")
	approveEvent := approveCmd.Arg("event-id", "event ID (omit to pick interactively)").String()
	approveOTP := approveCmd.Flag("otp", "OTP code (omit to be prompted)").String()

	denyCmd := app.Command("deny", "Deny a pending break-glass event")
	denyEvent := denyCmd.Arg("event-id", "event ID").Required().String()
	denyReason := denyCmd.Flag("reason", "denial reason (omit to be prompted)").String()

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	client, err := newControlClient(*socketPath)
	if err != nil {
		app.FatalUsage("%v", err)
	}
	sessions, err := vault.OpenAdvocateSessionKeyring()
	if err != nil {
		// A missing/unsupported OS keyring backend is not fatal: it only
		// disables session caching, not break-glass review itself.
		fmt.Fprintf(os.Stderr, "warning: advocate session cache unavailable: %v\n", err)
		sessions = nil
	}

	ctx := context.Background()
	switch cmd {
	case pendingCmd.FullCommand():
		err = runPending(ctx, client, *pendingPOA, *advocateID)
	case approveCmd.FullCommand():
		err = runApprove(ctx, client, sessions, *advocateID, *approveEvent, *approveOTP)
	case denyCmd.FullCommand():
		err = runDeny(ctx, client, sessions, *advocateID, *denyEvent, *denyReason)
	}
	if err != nil {
		app.FatalIfError(err, cmd)
	}
}

func runPending(ctx context.Context, client *controlClient, poaID, advocateID string) error {
	var events []*breakglass.Event
	if err := client.do(ctx, "GET", fmt.Sprintf("/breakglass/pending?poa_id=%s&advocate_id=%s", poaID, advocateID), nil, &events); err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No pending break-glass events.")
		return nil
	}

	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	for _, e := range events {
		printField("Event", e.ID)
		printField("  Trigger", string(e.Trigger))
		printField("  Details", e.TriggerDetails)
		printField("  Mode", string(e.VerificationMode))
		printField("  Expires", e.ExpiresAt.Format(time.RFC3339))
		fmt.Println()
	}
	return nil
}

func runApprove(ctx context.Context, client *controlClient, sessions *vault.AdvocateSessionKeyring, advocateID, eventID, otp string) error {
	if eventID == "" {
		if !interactive() {
			return fmt.Errorf("event-id is required in non-interactive mode")
		}
		poaID, err := askPOAID()
		if err != nil {
			return err
		}
		var events []*breakglass.Event
		if err := client.do(ctx, "GET", fmt.Sprintf("/breakglass/pending?poa_id=%s&advocate_id=%s", poaID, advocateID), nil, &events); err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("No pending break-glass events.")
			return nil
		}
		summaries := make([]string, len(events))
		for i, e := range events {
			summaries[i] = fmt.Sprintf("%s %s (%s)", e.ID, e.Trigger, e.TriggerDetails)
		}
		chosen, err := pickEventID(summaries)
		if err != nil {
			return err
		}
		eventID = chosen
	}

	if otp == "" {
		if !interactive() {
			return fmt.Errorf("otp is required in non-interactive mode")
		}
		code, err := readOTPCode()
		if err != nil {
			return err
		}
		otp = code
	}

	var event breakglass.Event
	err := client.do(ctx, "POST", fmt.Sprintf("/breakglass/%s/verify-otp", eventID), map[string]string{
		"Code":       otp,
		"AdvocateID": advocateID,
	}, &event)
	if err != nil {
		return fmt.Errorf("verify otp: %w", err)
	}

	if event.Status == breakglass.StatusPending && event.LivenessRequired {
		fmt.Println("OTP verified. Liveness verification is also required for this event;")
		fmt.Println("collect a liveness artifact through the advocate app and resubmit via")
		fmt.Println("breakglass.verify_liveness (not yet exposed by this CLI build).")
	}

	if event.Status == breakglass.StatusApproved {
		fmt.Printf("Event %s approved.\n", event.ID)
		if sessions != nil {
			now := time.Now()
			_ = sessions.Set(vault.AdvocateSession{
				AdvocateID: advocateID,
				EventID:    event.ID,
				Token:      event.ID,
				IssuedAt:   now,
				ExpiresAt:  now.Add(vault.DefaultSessionTTL),
			})
		}
	}
	return nil
}

func runDeny(ctx context.Context, client *controlClient, sessions *vault.AdvocateSessionKeyring, advocateID, eventID, reason string) error {
	if interactive() {
		confirmed, err := confirmDenial(eventID)
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("Denial cancelled.")
			return nil
		}
		if reason == "" {
			reason, err = askDenialReason()
			if err != nil {
				return err
			}
		}
	}
	if reason == "" {
		return fmt.Errorf("reason is required in non-interactive mode")
	}

	var event breakglass.Event
	if err := client.do(ctx, "POST", fmt.Sprintf("/breakglass/%s/deny", eventID), map[string]string{
		"Denier": advocateID,
		"Reason": reason,
	}, &event); err != nil {
		return fmt.Errorf("deny: %w", err)
	}
	fmt.Printf("Event %s denied.\n", event.ID)
	if sessions != nil {
		_ = sessions.Remove(advocateID)
	}
	return nil
}
