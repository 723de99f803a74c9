package main

import (
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/civil"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tradein/internal/availability"
)

func newSlotsCmd(flags *rootFlags) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print the availability window and the offered slots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer a.close()

			ref := a.assistant.Today()
			if date != "" {
				if ref, err = civil.ParseDate(date); err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
			}
			report, sel, err := a.assistant.Availability(cmd.Context(), ref)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), a.assistant.Rules(), report, sel)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Reference date (YYYY-MM-DD); the window starts after it")
	return cmd
}

var (
	availableColor = color.New(color.FgGreen)
	bookedColor    = color.New(color.FgRed)
	excludedColor  = color.New(color.FgHiBlack)
	zoneColor      = color.New(color.FgYellow, color.Bold)
)

func printReport(w io.Writer, rules availability.Rules, report availability.Report, sel availability.Selection) {
	fmt.Fprintf(w, "Window after %s (%s)\n", report.Window.Reference, rules.Location)
	for _, d := range report.Days {
		line := fmt.Sprintf("  %d  %s %-9s  ", d.Index, d.Date, d.Date.In(rules.Location).Weekday())
		switch d.Status {
		case availability.StatusAvailable:
			availableColor.Fprintf(w, "%s%-9s %s\n", line, d.Status, d.Slot.StartLocal.String()[:5])
		case availability.StatusBooked:
			bookedColor.Fprintf(w, "%s%s\n", line, d.Status)
		default:
			excludedColor.Fprintf(w, "%s%-9s %s\n", line, d.Status, d.Reason)
		}
	}

	if sel.Empty() {
		bookedColor.Fprintln(w, "No appointment slots available.")
		return
	}
	fmt.Fprintln(w, "Offered:")
	for _, s := range sel.Slots {
		fmt.Fprintf(w, "  %s  %s  %s\n", zoneColor.Sprintf("%-4s", s.Zone), rules.Display(s.Start), s.Start.UTC().Format(time.RFC3339))
	}
}
