// Package media constructs and runs ffmpeg invocations for watermarking
// and container conversion. Argument construction is pure; execution is
// isolated in Runner so the pipeline can be tested without a binary.
package media

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/vidmark/vidmark/internal/domain/model"
)

// PipeOutput directs ffmpeg output to stdout for streaming responses.
const PipeOutput = "pipe:1"

// overlayMargin is the pixel gap between the overlay and the frame edge.
const overlayMargin = 10

// WatermarkSpec describes a single watermark invocation.
type WatermarkSpec struct {
	// Input is the source video: a local scratch path or a direct URL.
	Input string
	// Overlay is the watermark image: a local scratch path or a direct URL.
	Overlay string
	// Position anchors the overlay; unknown values fall back to bottom-right.
	Position model.WatermarkPosition
	// Opacity is the overlay alpha multiplier in [0,1].
	Opacity float64
	// Scale sizes the overlay as a fraction of its native dimensions in (0,1].
	Scale float64
	// Format selects the output container; unknown values fall back to mp4.
	Format model.OutputContainer
	// Output is the target file path, or PipeOutput for streaming.
	Output string
}

// ConvertSpec describes a container/codec conversion invocation.
type ConvertSpec struct {
	Input   string
	Format  model.OutputContainer
	Quality model.QualityTier
	Output  string
}

// BuildWatermarkArgs maps a WatermarkSpec to an ffmpeg argument vector:
// a two-input composite filter graph that scales the overlay, applies the
// alpha multiplier, and anchors it at a position-derived offset.
func BuildWatermarkArgs(spec WatermarkSpec) ([]string, error) {
	if spec.Input == "" {
		return nil, errors.New("watermark spec: input is required and cannot be empty")
	}
	if spec.Overlay == "" {
		return nil, errors.New("watermark spec: overlay is required and cannot be empty")
	}
	if spec.Output == "" {
		return nil, errors.New("watermark spec: output is required and cannot be empty")
	}
	if spec.Opacity < 0 || spec.Opacity > 1 {
		return nil, fmt.Errorf("watermark spec: opacity must be between 0 and 1, got %v", spec.Opacity)
	}
	if spec.Scale <= 0 || spec.Scale > 1 {
		return nil, fmt.Errorf("watermark spec: scale must be between 0 and 1, got %v", spec.Scale)
	}

	format := spec.Format.Normalize()
	filter := fmt.Sprintf(
		"[1:v]scale=iw*%s:ih*%s,format=rgba,colorchannelmixer=aa=%s[wm];[0:v][wm]overlay=%s[v]",
		formatFloat(spec.Scale), formatFloat(spec.Scale), formatFloat(spec.Opacity),
		positionOffset(spec.Position),
	)

	args := []string{
		"-i", spec.Input,
		"-i", spec.Overlay,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", "0:a?",
	}
	args = append(args, codecArgs(format)...)
	args = append(args, qualityArgs(format, model.QualityMedium)...)
	args = append(args, containerArgs(format, spec.Output)...)
	args = append(args, "-f", string(format), "-y", spec.Output)
	return args, nil
}

// BuildConvertArgs maps a ConvertSpec to an ffmpeg argument vector with a
// container-selected codec pair and a quality-tier-derived rate/preset pair.
func BuildConvertArgs(spec ConvertSpec) ([]string, error) {
	if spec.Input == "" {
		return nil, errors.New("convert spec: input is required and cannot be empty")
	}
	if spec.Output == "" {
		return nil, errors.New("convert spec: output is required and cannot be empty")
	}

	format := spec.Format.Normalize()
	args := []string{"-i", spec.Input}
	args = append(args, codecArgs(format)...)
	args = append(args, qualityArgs(format, spec.Quality.Normalize())...)
	args = append(args, containerArgs(format, spec.Output)...)
	args = append(args, "-f", string(format), "-y", spec.Output)
	return args, nil
}

// positionOffset converts an anchor to ffmpeg overlay x:y expressions.
// W/H are frame dimensions, w/h are overlay dimensions.
func positionOffset(p model.WatermarkPosition) string {
	m := strconv.Itoa(overlayMargin)
	switch p.Normalize() {
	case model.PositionTopLeft:
		return m + ":" + m
	case model.PositionTopRight:
		return "W-w-" + m + ":" + m
	case model.PositionBottomLeft:
		return m + ":H-h-" + m
	case model.PositionCenter:
		return "(W-w)/2:(H-h)/2"
	default: // bottom-right
		return "W-w-" + m + ":H-h-" + m
	}
}

// codecArgs selects the video/audio codec pair for a container.
func codecArgs(format model.OutputContainer) []string {
	if format == model.ContainerWebM {
		return []string{"-c:v", "libvpx-vp9", "-c:a", "libopus"}
	}
	return []string{"-c:v", "libx264", "-c:a", "aac"}
}

// qualityArgs maps a quality tier to codec-specific rate/effort parameters.
func qualityArgs(format model.OutputContainer, tier model.QualityTier) []string {
	if format == model.ContainerWebM {
		// VP9 uses -deadline/-cpu-used rather than x264 presets.
		switch tier {
		case model.QualityLow:
			return []string{"-crf", "35", "-b:v", "0", "-deadline", "good", "-cpu-used", "4"}
		case model.QualityHigh:
			return []string{"-crf", "24", "-b:v", "0", "-deadline", "best", "-cpu-used", "0"}
		default:
			return []string{"-crf", "30", "-b:v", "0", "-deadline", "good", "-cpu-used", "2"}
		}
	}
	switch tier {
	case model.QualityLow:
		return []string{"-crf", "28", "-preset", "fast"}
	case model.QualityHigh:
		return []string{"-crf", "18", "-preset", "slow"}
	default:
		return []string{"-crf", "23", "-preset", "medium"}
	}
}

// containerArgs returns container-specific flags. File-targeted mp4 gets a
// compatible pixel format and faststart so results play while still
// downloading; piped mp4 must be fragmented because stdout is not seekable.
func containerArgs(format model.OutputContainer, output string) []string {
	if format == model.ContainerWebM {
		return nil
	}
	if output == PipeOutput {
		return []string{"-pix_fmt", "yuv420p", "-movflags", "frag_keyframe+empty_moov"}
	}
	return []string{"-pix_fmt", "yuv420p", "-movflags", "+faststart"}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
