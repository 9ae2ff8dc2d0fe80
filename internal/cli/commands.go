package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vbonduro/travelbingo/internal/batch"
	"github.com/vbonduro/travelbingo/internal/generation"
)

func whoamiCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print this client's persistent identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := e.identity.ClientID(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(e.out, id)
			return nil
		},
	}
}

func fixImagesCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "fix-images CITY",
		Short: "Generate images for items that have none, one at a time with retries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cityID := args[0]
			c, err := e.fetchCity(cmd.Context(), cityID)
			if err != nil {
				return err
			}

			var items []item
			for _, it := range c.Items {
				if it.needsImage() {
					items = append(items, it)
				}
			}
			if len(items) == 0 {
				fmt.Fprintln(e.out, "No missing images.")
				return nil
			}

			runner := batch.New(func(ctx context.Context, it item) error {
				_, err := e.client.GenerateImage(ctx, generation.Request{
					CityID:   cityID,
					ItemID:   it.ID,
					ItemText: it.Text,
				})
				return err
			}, itemKey, e.batchOptions(e.refreshCity(cityID)), e.logger)

			summary := runner.RunSequential(cmd.Context(), items, e.progress)
			fmt.Fprintf(e.out, "Successfully fixed %d images. Failed to fix %d images.\n", summary.Succeeded, summary.Failed)
			return cancelled(summary)
		},
	}
}

func generateImagesCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "generate-images CITY",
		Short: "Regenerate the image of every non-center item in concurrent groups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cityID := args[0]
			c, err := e.fetchCity(cmd.Context(), cityID)
			if err != nil {
				return err
			}

			var items []item
			for _, it := range c.Items {
				if !it.IsCenter {
					items = append(items, it)
				}
			}

			runner := batch.New(func(ctx context.Context, it item) error {
				_, err := e.client.GenerateImage(ctx, generation.Request{
					CityID:        cityID,
					ItemID:        it.ID,
					ItemText:      it.Text,
					Description:   it.Description,
					ForceNewImage: true,
				})
				return err
			}, itemKey, e.batchOptions(e.refreshCity(cityID)), e.logger)

			summary := runner.RunBatched(cmd.Context(), items, e.progress)
			fmt.Fprintf(e.out, "Successfully generated %d images. Failed to generate %d images.\n", summary.Succeeded, summary.Failed)
			return cancelled(summary)
		},
	}
}

func generateDescriptionsCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "generate-descriptions CITY",
		Short: "Write descriptions for items that lack one, in concurrent groups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cityID := args[0]
			c, err := e.fetchCity(cmd.Context(), cityID)
			if err != nil {
				return err
			}

			var items []item
			for _, it := range c.Items {
				if it.Description == "" {
					items = append(items, it)
				}
			}

			runner := batch.New(func(ctx context.Context, it item) error {
				_, err := e.client.GenerateDescription(ctx, generation.Request{
					CityID:   cityID,
					ItemID:   it.ID,
					ItemText: it.Text,
				})
				return err
			}, itemKey, e.batchOptions(e.refreshCity(cityID)), e.logger)

			summary := runner.RunBatched(cmd.Context(), items, e.progress)
			fmt.Fprintf(e.out, "Successfully generated %d descriptions. Failed to generate %d descriptions.\n", summary.Succeeded, summary.Failed)
			return cancelled(summary)
		},
	}
}

func cancelled(s batch.Summary) error {
	if s.Cancelled {
		return fmt.Errorf("interrupted after %d of %d items", s.Succeeded+s.Failed, s.Total)
	}
	return nil
}
