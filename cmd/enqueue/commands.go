package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type openFunc func(ctx context.Context) (*env, error)

func newRootCmd(open openFunc) *cobra.Command {
	var timeout time.Duration
	root := &cobra.Command{
		Use:           "enqueue",
		Short:         "Submit background jobs and inspect their status",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "deadline for the whole command")

	// run opens the environment and executes fn with a bounded context.
	run := func(fn func(ctx context.Context, e *env, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			e, err := open(ctx)
			if err != nil {
				return err
			}
			defer e.close()
			if err := fn(ctx, e, args); err != nil {
				cmd.PrintErrln("error:", describe(err))
				return err
			}
			return nil
		}
	}
	printID := func(cmd *cobra.Command, id string) {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}

	var title string
	meet := &cobra.Command{
		Use:   "meet <appointmentID>",
		Short: "Generate the meeting link for an appointment",
		Args:  cobra.ExactArgs(1),
	}
	meet.Flags().StringVar(&title, "title", "", "meeting title")
	meet.RunE = run(func(ctx context.Context, e *env, args []string) error {
		id, err := e.producer.EnqueueMeetingLinkJob(ctx, args[0], title)
		if err == nil {
			printID(meet, id)
		}
		return err
	})

	otpCmd := &cobra.Command{
		Use:   "otp <email> [code]",
		Short: "Email a verification code; a fresh code is issued when none is given",
		Args:  cobra.RangeArgs(1, 2),
	}
	otpCmd.RunE = run(func(ctx context.Context, e *env, args []string) error {
		code := ""
		if len(args) == 2 {
			code = args[1]
		} else {
			var err error
			if code, err = e.otps.Issue(ctx, args[0]); err != nil {
				return err
			}
		}
		id, err := e.producer.EnqueueOTPEmailJob(ctx, args[0], code)
		if err == nil {
			printID(otpCmd, id)
		}
		return err
	})

	verify := &cobra.Command{
		Use:   "verify <txRef>",
		Short: "Verify a payment with the provider",
		Args:  cobra.ExactArgs(1),
	}
	verify.RunE = run(func(ctx context.Context, e *env, args []string) error {
		id, err := e.producer.EnqueueVerifyPaymentJob(ctx, args[0])
		if err == nil {
			printID(verify, id)
		}
		return err
	})

	scrape := &cobra.Command{
		Use:   "scrape [sources...]",
		Short: "Scrape articles from all or the named sources",
	}
	scrape.RunE = run(func(ctx context.Context, e *env, args []string) error {
		id, err := e.producer.EnqueueScrapeJob(ctx, args...)
		if err == nil {
			printID(scrape, id)
		}
		return err
	})

	status := &cobra.Command{
		Use:   "status <jobID>",
		Short: "Show the state of a job",
		Args:  cobra.ExactArgs(1),
	}
	status.RunE = run(func(ctx context.Context, e *env, args []string) error {
		st, err := e.queue.Status(ctx, args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(status.OutOrStdout(), string(out))
		return nil
	})

	requeue := &cobra.Command{
		Use:   "requeue <jobID>",
		Short: "Give a failed job a fresh set of attempts",
		Args:  cobra.ExactArgs(1),
	}
	requeue.RunE = run(func(ctx context.Context, e *env, args []string) error {
		if err := e.queue.Requeue(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(requeue.OutOrStdout(), "requeued %s\n", args[0])
		return nil
	})

	root.AddCommand(meet, otpCmd, verify, scrape, status, requeue)
	return root
}
