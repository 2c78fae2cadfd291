// Package synthetic produces deterministic placeholder assets for every job
// kind so the whole pipeline can run offline, in CI and in local development.
package synthetic

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"shortforge/internal/domain"
	"shortforge/internal/infra"
	"shortforge/internal/prompts"
)

// Name identifies the provider in chains and logs.
const Name = "synthetic"

const (
	sampleRate    = 16000
	wordsPerSec   = 2.5
	defaultMusicS = 30.0
)

var subjectPattern = regexp.MustCompile(`titled "([^"]+)"|about: ([^\n]+?)\.?\n`)

// Generator renders placeholder assets. Output depends only on the request.
type Generator struct {
	logger *infra.Logger
}

func NewGenerator(logger *infra.Logger) *Generator {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Generator{logger: logger}
}

// Generate dispatches on the job kind.
func (g *Generator) Generate(ctx context.Context, req domain.JobRequest) (*domain.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seed := deterministicSeed(req.Kind, req.SceneIndex, req.Prompt)
	var (
		artifact *domain.Artifact
		err      error
	)
	switch req.Kind {
	case domain.JobKindText:
		artifact, err = script(req)
	case domain.JobKindImage:
		w, h := normalizeAspect(req.AspectRatio)
		artifact = &domain.Artifact{Data: renderImage(w, h, seed), MIME: "image/png"}
	case domain.JobKindSpeech:
		seconds := speechSeconds(req.Prompt)
		artifact = &domain.Artifact{Data: silentWAV(seconds), MIME: "audio/wav", DurationSec: seconds}
	case domain.JobKindVideo:
		artifact = stillClip(req, seed)
	case domain.JobKindMusic:
		seconds := req.DurationSec
		if seconds <= 0 {
			seconds = defaultMusicS
		}
		artifact = &domain.Artifact{Data: silentWAV(seconds), MIME: "audio/wav", DurationSec: seconds}
	default:
		return nil, errors.Wrapf(domain.ErrProviderUnavailable, "synthetic: unknown job kind %q", req.Kind)
	}
	if err != nil {
		return nil, err
	}
	g.logger.Debug().
		Str("kind", string(req.Kind)).
		Int("scene", req.SceneIndex).
		Str("seed", seed).
		Msg("synthetic: generated placeholder asset")
	return artifact, nil
}

func script(req domain.JobRequest) (*domain.Artifact, error) {
	subject := "this story"
	if m := subjectPattern.FindStringSubmatch(req.Prompt + "\n"); m != nil {
		subject = strings.TrimSpace(m[1] + m[2])
	}
	type scene struct {
		Narration   string  `json:"narration"`
		ImagePrompt string  `json:"image_prompt"`
		VideoPrompt string  `json:"video_prompt"`
		DurationSec float64 `json:"duration_sec"`
	}
	n := prompts.SceneCount(req)
	out := struct {
		Scenes []scene `json:"scenes"`
	}{Scenes: make([]scene, 0, n)}
	for i := 0; i < n; i++ {
		out.Scenes = append(out.Scenes, scene{
			Narration:   fmt.Sprintf("Part %d of %d about %s, told in a few calm words.", i+1, n, subject),
			ImagePrompt: fmt.Sprintf("Illustration %d of %s", i+1, subject),
			VideoPrompt: "Slow push-in.",
			DurationSec: 6,
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(err, "synthetic: encode script")
	}
	return &domain.Artifact{Text: string(data), MIME: "application/json"}, nil
}

// stillClip hands the source frame back as the clip; the renderer holds it
// for the clip duration.
func stillClip(req domain.JobRequest, seed string) *domain.Artifact {
	seconds := req.DurationSec
	if seconds <= 0 {
		seconds = 5
	}
	if src := req.SourceImage; src != nil && len(src.Data) > 0 {
		mime := src.MIME
		if mime == "" {
			mime = "image/png"
		}
		return &domain.Artifact{Data: src.Data, MIME: mime, DurationSec: seconds}
	}
	w, h := normalizeAspect(req.AspectRatio)
	return &domain.Artifact{Data: renderImage(w, h, seed), MIME: "image/png", DurationSec: seconds}
}

func speechSeconds(text string) float64 {
	words := len(strings.Fields(text))
	seconds := math.Round(float64(words)/wordsPerSec*10) / 10
	if seconds < 1 {
		return 1
	}
	return seconds
}

// silentWAV encodes mono 16-bit PCM silence.
func silentWAV(seconds float64) []byte {
	samples := int(seconds * sampleRate)
	dataLen := samples * 2
	var buf bytes.Buffer
	buf.Grow(44 + dataLen)
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}

func renderImage(width, height int, seed string) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := colorFromSeed(seed, 0)
	accent := colorFromSeed(seed, 1)
	draw.Draw(img, img.Bounds(), &image.Uniform{base}, image.Point{}, draw.Src)

	stripeHeight := max(32, height/12)
	for y := 0; y < height; y += stripeHeight * 2 {
		stripe := image.Rect(0, y, width, min(height, y+stripeHeight))
		draw.Draw(img, stripe, &image.Uniform{accent}, image.Point{}, draw.Over)
	}

	diagonal := colorFromSeed(seed, 2)
	for x := 0; x < max(width, height); x += max(16, width/32) {
		for y := 0; y < height; y++ {
			xx := x + y
			if xx >= width {
				break
			}
			img.Set(xx, y, diagonal)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func colorFromSeed(seed string, shift int) color.RGBA {
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	return color.RGBA{R: hexByte(segment[0:2]), G: hexByte(segment[2:4]), B: hexByte(segment[4:6]), A: 255}
}

func hexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(hasher, "%v|", part)
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

// normalizeAspect picks a small frame for the ratio; placeholders do not need
// full resolution.
func normalizeAspect(aspect string) (int, int) {
	switch strings.TrimSpace(strings.ToLower(aspect)) {
	case "16:9":
		return 960, 540
	case "1:1", "square":
		return 720, 720
	case "4:5":
		return 576, 720
	default:
		return 540, 960
	}
}
