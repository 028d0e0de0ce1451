package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Keksclan/dishsync/model"
)

func (a *app) groceryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grocery",
		Short: "Manage the grocery list",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Show the grocery list",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				items, err := a.client.Grocery().Items(cmd.Context())
				if err != nil {
					return err
				}
				return a.emitItems(items)
			},
		},
		&cobra.Command{
			Use:   "add [name...]",
			Short: "Add items to the top of the list",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				items, err := a.client.Grocery().Add(cmd.Context(), args...)
				if err != nil {
					return err
				}
				return a.emitItems(items)
			},
		},
		&cobra.Command{
			Use:   "toggle [id]",
			Short: "Check or uncheck an item",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				item, err := a.client.Grocery().ToggleCheck(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.emitItems([]model.GroceryItem{item})
			},
		},
		&cobra.Command{
			Use:   "delete [id]",
			Short: "Remove an item",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.client.Grocery().Delete(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "check-all",
			Short: "Check every item",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.client.Grocery().CheckAll(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "uncheck-all",
			Short: "Uncheck every item",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.client.Grocery().UncheckAll(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "clear-checked",
			Short: "Remove checked items",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				n, err := a.client.Grocery().ClearChecked(cmd.Context())
				if err != nil {
					return err
				}
				return a.emit(map[string]int{"removed": n}, func(w io.Writer) {
					fmt.Fprintf(w, "removed %d item(s)\n", n)
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Empty the list",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.client.Grocery().Clear(cmd.Context())
			},
		},
	)
	return cmd
}

func (a *app) emitItems(items []model.GroceryItem) error {
	if items == nil {
		items = []model.GroceryItem{}
	}
	return a.emit(items, func(w io.Writer) {
		if len(items) == 0 {
			fmt.Fprintln(w, "(empty)")
			return
		}
		for _, it := range items {
			mark := " "
			if it.Checked {
				mark = "x"
			}
			fmt.Fprintf(w, "[%s] %s  %s\n", mark, it.Name, it.ID)
		}
	})
}
