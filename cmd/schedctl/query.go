package main

import (
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

type slotFlags struct {
	practitioner int64
	apptType     int64
	date         string
	start        string
	exclude      int64
}

func (f *slotFlags) register(cmd *cobra.Command, withStart, withPractitioner bool) {
	if withPractitioner {
		cmd.Flags().Int64Var(&f.practitioner, "practitioner", 0, "Practitioner id")
	}
	cmd.Flags().Int64Var(&f.apptType, "type", 0, "Appointment type id")
	cmd.Flags().StringVar(&f.date, "date", "", "Date, YYYY-MM-DD in the clinic timezone")
	cmd.Flags().Int64Var(&f.exclude, "exclude", 0, "Calendar event id to ignore, for edits")
	if withStart {
		cmd.Flags().StringVar(&f.start, "start", "", "Start time, HH:MM")
	}
}

func slotsCmd() *cobra.Command {
	var f slotFlags
	var restrict bool
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List bookable start times for a practitioner on a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			date, err := s.date(f.date)
			if err != nil {
				return err
			}
			slots, err := s.engine.GetAvailableSlots(cmd.Context(), scheduling.SlotQuery{
				ClinicID:                 s.clinicID,
				PractitionerID:           f.practitioner,
				AppointmentTypeID:        f.apptType,
				Date:                     date,
				ExcludeCalendarEventID:   f.exclude,
				ApplyBookingRestrictions: restrict,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, slots)
		},
	}
	f.register(cmd, false, true)
	cmd.Flags().BoolVar(&restrict, "patient-rules", false, "Apply the clinic booking restrictions")
	return cmd
}

func conflictsCmd() *cobra.Command {
	var f slotFlags
	var checkPast bool
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Report what blocks a proposed appointment",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			date, err := s.date(f.date)
			if err != nil {
				return err
			}
			start, err := timeutil.ParseTimeOfDay(f.start)
			if err != nil {
				return err
			}
			report, err := s.engine.CheckSchedulingConflicts(cmd.Context(), scheduling.ConflictQuery{
				ClinicID:               s.clinicID,
				PractitionerID:         f.practitioner,
				AppointmentTypeID:      f.apptType,
				Date:                   date,
				StartTime:              start,
				ExcludeCalendarEventID: f.exclude,
				CheckPastAppointment:   checkPast,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	f.register(cmd, true, true)
	cmd.Flags().BoolVar(&checkPast, "check-past", false, "Report a start before now as a conflict")
	return cmd
}

func assignCmd() *cobra.Command {
	var f slotFlags
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Pick the practitioner auto-assignment would choose",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			date, err := s.date(f.date)
			if err != nil {
				return err
			}
			start, err := timeutil.ParseTimeOfDay(f.start)
			if err != nil {
				return err
			}
			a, err := s.engine.AutoAssignPractitioner(cmd.Context(), scheduling.AssignQuery{
				ClinicID:               s.clinicID,
				AppointmentTypeID:      f.apptType,
				Date:                   date,
				StartTime:              start,
				ExcludeCalendarEventID: f.exclude,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, a)
		},
	}
	f.register(cmd, true, false)
	return cmd
}
