package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mmynk/tallyledger/internal/calculator"
	"github.com/mmynk/tallyledger/internal/models"
	"github.com/mmynk/tallyledger/internal/service"
)

const verifyPageSize = 100

// entryFlags are shared by create and add-entry.
type entryFlags struct {
	name string
	date string
	qty  []string
	item string
	unit string
}

func (f *entryFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.date, "date", "d", models.Today().String(), "Selected date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVarP(&f.qty, "qty", "q", nil, "Quantity entries, repeatable or comma separated (required)")
	cmd.Flags().StringVar(&f.item, "item", "", "Item label")
	cmd.Flags().StringVar(&f.unit, "unit", "", "Unit label")
	_ = cmd.MarkFlagRequired("qty")
}

func (f *entryFlags) request() (service.CreatePersonRequest, error) {
	quantities := make([]models.Quantity, 0, len(f.qty))
	for _, raw := range f.qty {
		q, err := models.ParseQuantity(raw)
		if err != nil {
			return service.CreatePersonRequest{}, fmt.Errorf("invalid --qty %q: %w", raw, err)
		}
		quantities = append(quantities, q)
	}
	return service.CreatePersonRequest{
		Name:            f.name,
		SelectedDate:    f.date,
		QuantityEntries: quantities,
		Item:            f.item,
		Unit:            f.unit,
	}, nil
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "persons",
		Short: "List persons",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			persons, err := newClient().ListPersons(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), persons)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "get PERSON_ID",
		Short: "Show one person",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			person, err := newClient().GetPerson(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), person)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "search PREFIX",
		Short: "Find persons whose name starts with PREFIX",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			persons, err := newClient().SearchPersons(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), persons)
		},
	})

	var cursor string
	var pageSize int
	detailsCmd := &cobra.Command{
		Use:   "details PERSON_ID",
		Short: "List a person's daily details, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := newClient().ListDetails(cmd.Context(), args[0], pageSize, cursor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), details)
		},
	}
	detailsCmd.Flags().StringVarP(&cursor, "cursor", "c", "", "Last visible date (or detail id) of the previous page")
	detailsCmd.Flags().IntVarP(&pageSize, "page-size", "n", 0, "Page size (server default when 0)")
	rootCmd.AddCommand(detailsCmd)

	var create entryFlags
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a person with a first entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := create.request()
			if err != nil {
				return err
			}
			id, err := newClient().CreatePerson(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"person_id": id})
		},
	}
	createCmd.Flags().StringVar(&create.name, "name", "", "Person name (required)")
	_ = createCmd.MarkFlagRequired("name")
	create.bind(createCmd)
	rootCmd.AddCommand(createCmd)

	var add entryFlags
	addCmd := &cobra.Command{
		Use:   "add-entry PERSON_ID",
		Short: "Append quantities to a person for a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := add.request()
			if err != nil {
				return err
			}
			total, err := newClient().AddEntry(cmd.Context(), args[0], service.AddEntryRequest(req))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"person_id": args[0], "total_quantity": total})
		},
	}
	add.bind(addCmd)
	rootCmd.AddCommand(addCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "delete PERSON_ID",
		Short: "Delete a person and all of their details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().DeletePerson(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "deleted "+strconv.Quote(args[0]))
			return err
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "verify PERSON_ID",
		Short: "Check that a person's total matches the sum of all their details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			person, err := c.GetPerson(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var all []*models.Detail
			next := ""
			for {
				page, err := c.ListDetails(cmd.Context(), args[0], verifyPageSize, next)
				if err != nil {
					return err
				}
				all = append(all, page...)
				if len(page) < verifyPageSize {
					break
				}
				next = page[len(page)-1].SelectedDate.String()
			}
			if err := calculator.Reconcile(person, all); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"person_id":      person.ID,
				"details":        len(all),
				"total_quantity": calculator.DetailsTotal(all),
			})
		},
	})
}
