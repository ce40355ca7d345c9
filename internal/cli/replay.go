package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/neurostream-systems/neurostream/internal/config"
	"github.com/neurostream-systems/neurostream/internal/model"
)

var (
	replayFormat     string
	replayDeviceID   string
	replaySourceType string
	replayChannels   int
	replayRate       float64
)

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Replay a pre-recorded file through the pipeline",
	Long:  "Read a recorded acquisition file ('csv' built in; other formats as registered) and push it through validation, anonymization, and dispatch as one bounded session.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		st, err := buildStack(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.close()

		srcType, err := model.ParseSourceType(replaySourceType)
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
		defer cancel()

		res, err := st.coord.BatchUpload(ctx, f, replayFormat, model.SourceConfig{
			DeviceID:     replayDeviceID,
			SourceType:   srcType,
			ChannelCount: replayChannels,
			SampleRateHz: replayRate,
		})
		if err != nil {
			return err
		}

		if err := st.coord.Shutdown(ctx); err != nil {
			st.log.Warn("shutdown incomplete", "error", err)
		}

		out, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayFormat, "format", "csv", "file format (csv, or any registered reader)")
	replayCmd.Flags().StringVar(&replayDeviceID, "device-id", "", "device identifier for the replayed session")
	replayCmd.Flags().StringVar(&replaySourceType, "source-type", "eeg", "source type of the recording")
	replayCmd.Flags().IntVar(&replayChannels, "channels", 8, "channel count of the recording")
	replayCmd.Flags().Float64Var(&replayRate, "rate", 250, "sample rate in Hz")
	_ = replayCmd.MarkFlagRequired("device-id")
}
