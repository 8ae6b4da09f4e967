package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/zzzwannasleep/WebPlayer/internal/demux/mkv"
	"github.com/zzzwannasleep/WebPlayer/internal/demux/mp4"
	"github.com/zzzwannasleep/WebPlayer/internal/demux/ts"
	"github.com/zzzwannasleep/WebPlayer/internal/detect"
	"github.com/zzzwannasleep/WebPlayer/internal/media"
	"github.com/zzzwannasleep/WebPlayer/internal/orchestrator"
)

// probeCmd opens a source, detects its container, and prints the tracks
// the matching demuxer discovers.
var probeCmd = &cobra.Command{
	Use:   "probe <file-or-url>",
	Short: "Detect a source's container and list its tracks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		logger := slog.Default()

		src, err := openSource(ctx, args[0], cfg.HTTPSource, logger)
		if err != nil {
			return err
		}
		defer src.Bytes.Abort()

		container, err := orchestrator.DetectContainer(ctx, src)
		if err != nil {
			return err
		}

		var demuxer media.Demuxer
		switch container {
		case detect.ContainerMP4:
			demuxer = mp4.New(src.Bytes, logger)
		case detect.ContainerMKV:
			demuxer = mkv.New(src.Bytes, logger)
		case detect.ContainerTS:
			demuxer = ts.New(src.Bytes, logger)
		}
		defer demuxer.Close()

		if err := demuxer.Open(ctx); err != nil {
			return fmt.Errorf("opening %s demuxer: %w", container, err)
		}

		fmt.Printf("container: %s (%d bytes)\n", container, src.Bytes.Size())
		for _, t := range demuxer.Tracks() {
			switch t.Kind {
			case media.TrackVideo:
				fmt.Printf("track %d: video %s %dx%d", t.ID, t.Codec, t.Width, t.Height)
			case media.TrackAudio:
				fmt.Printf("track %d: audio %s %d Hz %dch", t.ID, t.Codec, t.SampleRate, t.Channels)
			case media.TrackSubtitle:
				fmt.Printf("track %d: subtitle %s", t.ID, t.Codec)
				if t.Language != "" {
					fmt.Printf(" [%s]", t.Language)
				}
			}
			if len(t.CodecPrivate) > 0 {
				fmt.Printf(" (description %d bytes)", len(t.CodecPrivate))
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
