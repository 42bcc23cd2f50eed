package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/your-org/iaction/internal/capture"
	"github.com/your-org/iaction/pkg/dto"
)

var (
	startSource   string
	startURL      string
	startHost     string
	startPort     int
	startPath     string
	startUser     string
	startPassword string
	startEntity   string
	stopAll       bool
)

var camerasCmd = &cobra.Command{
	Use:   "cameras",
	Short: "Manage camera capture",
}

var camerasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cameras and their analysis rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := newClient().ListCameras()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(list)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "CAMERA\tSOURCE\tCAPTURING\tANALYZING\tFAILURES\tANALYSIS FPS\tTOTAL FPS\tHALT")
		for _, c := range list.Cameras {
			fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%d\t%.2f\t%.2f\t%s\n",
				c.CameraID,
				c.SourceType,
				c.IsCapturing,
				c.AnalysisInProgress,
				c.ConsecutiveAIFailures,
				c.AnalysisFPS,
				c.TotalFPS,
				c.HaltReason,
			)
		}
		return w.Flush()
	},
}

var camerasStartCmd = &cobra.Command{
	Use:   "start <camera-id>",
	Short: "Start capture for a camera",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := dto.StartCameraRequest{
			SourceType: startSource,
			URL:        startURL,
			Username:   startUser,
			Password:   startPassword,
			EntityID:   startEntity,
		}
		if req.URL == "" && startHost != "" {
			// Credentials travel separately so the agent can re-apply them on reconnect.
			req.URL = capture.BuildRTSPURL(startHost, startPort, "", "", startPath)
		}

		cam, err := newClient().StartCamera(args[0], req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cam)
		}
		fmt.Printf("Camera %s capturing (%s)\n", cam.CameraID, cam.SourceType)
		return nil
	},
}

var camerasStopCmd = &cobra.Command{
	Use:   "stop [camera-id]",
	Short: "Stop capture for one camera, or all with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api := newClient()
		if stopAll {
			n, err := api.StopAllCameras()
			if err != nil {
				return err
			}
			fmt.Printf("Stopped %d camera(s)\n", n)
			return nil
		}
		if len(args) == 0 {
			return fmt.Errorf("camera id required (or --all)")
		}
		if err := api.StopCamera(args[0]); err != nil {
			return err
		}
		fmt.Printf("Camera %s stopped\n", args[0])
		return nil
	},
}

func init() {
	camerasStartCmd.Flags().StringVar(&startSource, "source", "rtsp", "source type: rtsp or polling")
	camerasStartCmd.Flags().StringVar(&startURL, "url", "", "stream URL")
	camerasStartCmd.Flags().StringVar(&startHost, "host", "", "camera host, used to build an RTSP URL when --url is empty")
	camerasStartCmd.Flags().IntVar(&startPort, "port", 554, "RTSP port")
	camerasStartCmd.Flags().StringVar(&startPath, "path", "/", "RTSP path")
	camerasStartCmd.Flags().StringVar(&startUser, "username", "", "stream username")
	camerasStartCmd.Flags().StringVar(&startPassword, "password", "", "stream password")
	camerasStartCmd.Flags().StringVar(&startEntity, "entity", "", "Home Assistant camera entity for polling")

	camerasStopCmd.Flags().BoolVar(&stopAll, "all", false, "stop every camera")

	camerasCmd.AddCommand(camerasListCmd, camerasStartCmd, camerasStopCmd)
}
