package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func (a *app) call(cmd *cobra.Command, method, path string, body any) error {
	var out any
	if err := a.client().Do(cmd.Context(), method, path, body, &out); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return a.print(out)
}

func (a *app) contactsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "contacts",
		Aliases: []string{"contact"},
		Short:   "Manage trusted contacts",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List trusted contacts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.call(cmd, http.MethodGet, "/api/contacts", nil)
			},
		},
		&cobra.Command{
			Use:   "add <name> <phone>",
			Short: "Add a trusted contact",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.call(cmd, http.MethodPost, "/api/contacts", map[string]string{"name": args[0], "phone": args[1]})
			},
		},
		&cobra.Command{
			Use:     "rm <id>",
			Aliases: []string{"remove"},
			Short:   "Remove a trusted contact",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.client().Do(cmd.Context(), http.MethodDelete, "/api/contacts/"+url.PathEscape(args[0]), nil, nil); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "removed %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func (a *app) sosCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sos",
		Short: "Trigger the SOS sequence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd, http.MethodPost, "/api/sos", nil)
		},
	}
}

func (a *app) copyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "copy",
		Short: "Copy the current location summary to the device clipboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd, http.MethodPost, "/api/sos/copy", nil)
		},
	}
}

func (a *app) locateCommand() *cobra.Command {
	var (
		timeout time.Duration
		maxAge  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Request one location fix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd, http.MethodPost, "/api/location/fix", map[string]int64{
				"timeoutMs": timeout.Milliseconds(),
				"maxAgeMs":  maxAge.Milliseconds(),
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "fix-timeout", 0, "fix timeout (server default when zero)")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "accept a cached fix up to this age")
	return cmd
}

func (a *app) trackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Control continuous location tracking",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Start tracking (no-op when already tracking)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.call(cmd, http.MethodPost, "/api/location/watch", nil)
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop tracking",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.client().Do(cmd.Context(), http.MethodDelete, "/api/location/watch", nil, nil); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "tracking stopped")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show tracking status and the last fix",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.call(cmd, http.MethodGet, "/api/location", nil)
			},
		},
	)
	return cmd
}

func (a *app) askCommand() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "ask <text>",
		Short: "Ask the safety assistant",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd, http.MethodPost, "/api/assistant/messages", map[string]string{
				"sessionId": sessionID,
				"text":      strings.Join(args, " "),
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "continue an existing conversation")
	return cmd
}

func (a *app) checkinCommand() *cobra.Command {
	var minutes float64
	start := &cobra.Command{
		Use:   "start",
		Short: "Arm the check-in timer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd, http.MethodPost, "/api/checkin", map[string]float64{"minutes": minutes})
		},
	}
	start.Flags().Float64Var(&minutes, "minutes", 0, "minutes until SOS fires (server default when zero)")

	cmd := &cobra.Command{
		Use:   "checkin",
		Short: "Run the safety check-in timer",
	}
	cmd.AddCommand(
		start,
		&cobra.Command{
			Use:   "confirm",
			Short: "Confirm you are safe",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.call(cmd, http.MethodPost, "/api/checkin/confirm", nil)
			},
		},
		&cobra.Command{
			Use:   "cancel",
			Short: "Cancel the timer",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.call(cmd, http.MethodDelete, "/api/checkin", nil)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the timer state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.call(cmd, http.MethodGet, "/api/checkin", nil)
			},
		},
	)
	return cmd
}
