package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/spf13/cobra"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gogpu/orb"
	"github.com/gogpu/orb/backend"
)

type trackFlags struct {
	backend        string
	format         string
	width, height  int
	maxFeatures    int
	maxMatches     int
	threshold      float32
	matchThreshold int
	chain          bool
}

// frameReport is the result of one image.
type frameReport struct {
	Frame          int          `json:"frame"`
	Path           string       `json:"path"`
	Cycle          uint64       `json:"cycle"`
	Corners        int          `json:"corners"`
	CornersDropped uint32       `json:"corners_dropped,omitempty"`
	Keyframe       uint64       `json:"keyframe,omitempty"`
	Matches        []orb.Match  `json:"matches,omitempty"`
	MatchCount     int          `json:"match_count"`
	MatchesDropped uint32       `json:"matches_dropped,omitempty"`
	Points         []orb.Corner `json:"points,omitempty"`
}

func newTrackCmd() *cobra.Command {
	f := trackFlags{}
	def := orb.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "track <image> [image...]",
		Short: "Detect corners in each image and match them against the keyframe",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrack(cmd.Context(), cmd.OutOrStdout(), f, args)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.backend, "backend", backend.Auto, "Device backend (auto, wgpu, software)")
	fl.StringVar(&f.format, "format", "text", "Output format (text, json)")
	fl.IntVar(&f.width, "width", 0, "Frame width; 0 uses the first image's width")
	fl.IntVar(&f.height, "height", 0, "Frame height; 0 uses the first image's height")
	fl.IntVar(&f.maxFeatures, "max-features", def.MaxFeatures, "Corner list capacity")
	fl.IntVar(&f.maxMatches, "max-matches", def.MaxMatches, "Match list capacity")
	fl.Float32Var(&f.threshold, "threshold", def.Threshold, "Corner contrast threshold in [0, 1]")
	fl.IntVar(&f.matchThreshold, "match-threshold", def.MatchThreshold, "Largest accepted descriptor distance in bits")
	fl.BoolVar(&f.chain, "chain", false, "Match each image against its predecessor instead of the first image")
	return cmd
}

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the registered device backends in priority order",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range backend.Available() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}

func decode(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func runTrack(ctx context.Context, w io.Writer, f trackFlags, paths []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if f.format != "text" && f.format != "json" {
		return fmt.Errorf("unknown format %q (text, json)", f.format)
	}

	first, err := decode(paths[0])
	if err != nil {
		return err
	}
	cfg := orb.Config{
		Width:          f.width,
		Height:         f.height,
		MaxFeatures:    f.maxFeatures,
		MaxMatches:     f.maxMatches,
		Threshold:      f.threshold,
		MatchThreshold: f.matchThreshold,
	}
	if cfg.Width == 0 {
		cfg.Width = first.Bounds().Dx()
	}
	if cfg.Height == 0 {
		cfg.Height = first.Bounds().Dy()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dev, err := backend.Open(f.backend)
	if err != nil {
		return err
	}
	defer dev.Release()

	p, err := orb.New(dev, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	enc := json.NewEncoder(w)
	// keyCycle is the cycle whose features form the keyframe.
	var keyCycle uint64
	for i, path := range paths {
		img := first
		if i > 0 {
			if img, err = decode(path); err != nil {
				return err
			}
		}
		rep, err := trackFrame(ctx, p, i, path, img, f.chain)
		if err != nil {
			return err
		}
		rep.Keyframe = keyCycle
		if i == 0 || f.chain {
			keyCycle = rep.Cycle
		}
		if f.format == "json" {
			if err := enc.Encode(rep); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(w, "%s: %d corners", rep.Path, rep.Corners)
		if rep.CornersDropped > 0 {
			fmt.Fprintf(w, " (%d dropped)", rep.CornersDropped)
		}
		if i > 0 {
			fmt.Fprintf(w, ", %d matches against keyframe %d", rep.MatchCount, rep.Keyframe)
			if rep.MatchesDropped > 0 {
				fmt.Fprintf(w, " (%d dropped)", rep.MatchesDropped)
			}
		}
		fmt.Fprintln(w)
	}

	st := p.Stats()
	if f.format == "text" {
		fmt.Fprintf(w, "device %s: %d cycles, %d keyframes, %d maps\n", st.Device, st.Cycles, st.Keyframes, st.Maps)
	}
	return nil
}

// trackFrame runs one cycle on img. Frame 0 only records the keyframe.
func trackFrame(ctx context.Context, p *orb.Pipeline, i int, path string, img image.Image, chain bool) (frameReport, error) {
	rep := frameReport{Frame: i, Path: path}
	if err := p.WriteImage(img); err != nil {
		return rep, err
	}
	opts := orb.CycleOptions{
		RecordKeyframe: i == 0 || chain,
		ComputeMatches: i > 0,
	}
	if err := p.RunCycle(ctx, opts); err != nil {
		return rep, err
	}

	corners, err := p.ReadCorners(ctx)
	if err != nil {
		return rep, err
	}
	rep.Cycle = corners.Cycle
	rep.Corners = corners.Count()
	rep.Points = corners.Corners
	if corners.Saturated {
		rep.CornersDropped = corners.Attempted - uint32(corners.Count())
	}

	matches, err := p.ReadMatches(ctx)
	if err != nil {
		return rep, err
	}
	rep.Matches = matches.Matches
	rep.MatchCount = matches.Count()
	if matches.Saturated {
		rep.MatchesDropped = matches.Attempted - uint32(matches.Count())
	}
	return rep, nil
}
