package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/your-org/iaction/pkg/dto"
)

var (
	detWebhook string
	detCameras []string
)

var detectionsCmd = &cobra.Command{
	Use:     "detections",
	Aliases: []string{"det"},
	Short:   "Manage AI detections",
}

var detectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List detections",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := newClient().ListDetections()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(list)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCAMERAS\tTRIGGERS\tPHRASE")
		for _, d := range list {
			cameras := "all"
			if len(d.EnabledCameras) > 0 {
				cameras = strings.Join(d.EnabledCameras, ",")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", d.ID, d.Name, cameras, d.TriggerCount, d.Phrase)
		}
		return w.Flush()
	},
}

var detectionsAddCmd = &cobra.Command{
	Use:   "add <name> <phrase>",
	Short: "Add a detection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newClient().AddDetection(dto.CreateDetectionRequest{
			Name:           args[0],
			Phrase:         args[1],
			WebhookURL:     detWebhook,
			EnabledCameras: detCameras,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(d)
		}
		fmt.Printf("Detection %s added (%s)\n", d.Name, d.ID)
		return nil
	},
}

var detectionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a detection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().DeleteDetection(args[0]); err != nil {
			return err
		}
		fmt.Printf("Detection %s deleted\n", args[0])
		return nil
	},
}

func init() {
	detectionsAddCmd.Flags().StringVar(&detWebhook, "webhook", "", "URL called when the detection triggers")
	detectionsAddCmd.Flags().StringSliceVar(&detCameras, "camera", nil, "camera ids to enable (default all)")

	detectionsCmd.AddCommand(detectionsListCmd, detectionsAddCmd, detectionsDeleteCmd)
}
