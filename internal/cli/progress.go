package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Keksclan/dishsync/model"
)

func (a *app) progressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Track cooking progress per recipe",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show [recipe-id]",
			Short: "Show gathered ingredients and completed steps",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := a.client.Progress().Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.emitProgress(p)
			},
		},
		&cobra.Command{
			Use:   "toggle-step [recipe-id] [index]",
			Short: "Mark a step done or not done",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				idx, err := parseIndex(args[1])
				if err != nil {
					return err
				}
				p, err := a.client.Progress().ToggleStep(cmd.Context(), args[0], idx)
				if err != nil {
					return err
				}
				return a.emitProgress(p)
			},
		},
		&cobra.Command{
			Use:   "toggle-ingredient [recipe-id] [index]",
			Short: "Mark an ingredient gathered or not",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				idx, err := parseIndex(args[1])
				if err != nil {
					return err
				}
				p, err := a.client.Progress().ToggleIngredient(cmd.Context(), args[0], idx)
				if err != nil {
					return err
				}
				return a.emitProgress(p)
			},
		},
		&cobra.Command{
			Use:   "reset [recipe-id]",
			Short: "Forget all progress on a recipe",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.client.Progress().Reset(cmd.Context(), args[0])
			},
		},
	)
	return cmd
}

func parseIndex(s string) (int, error) {
	idx, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("index %q is not a number", s)
	}
	return idx, nil
}

func (a *app) emitProgress(p model.RecipeProgress) error {
	return a.emit(p, func(w io.Writer) {
		fmt.Fprintf(w, "recipe:      %s\n", p.RecipeID)
		fmt.Fprintf(w, "ingredients: %v\n", p.CompletedIngredients.Sorted())
		fmt.Fprintf(w, "steps:       %v\n", p.CompletedSteps.Sorted())
	})
}
