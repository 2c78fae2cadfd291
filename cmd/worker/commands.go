package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"shortforge/internal/bootstrap"
	"shortforge/internal/domain"
	"shortforge/internal/infra"
	"shortforge/internal/infra/credentials"
	"shortforge/internal/pipeline"
)

type cli struct {
	out      io.Writer
	exitCode int

	title  string
	topic  string
	scenes int
	style  domain.StyleConfig
	folder string
	from   string
}

func newCLI(out io.Writer) *cli {
	return &cli{out: out}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "worker",
		Short: "Generate short vertical videos from a title or topic",
		Long: `worker runs the six-stage short video pipeline:
script, image, audio, subtitle, video and render.

Each run writes its files under a folder token such as
20240601_1a2b3c4d_night_owls. Any stage can be re-run on its own.

Examples:
  worker run --title "Night Owls" --scenes 5
  worker stage video --folder latest
  worker resume 20240601_1a2b3c4d_night_owls --from render
  worker key set qwen sk-...`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the whole pipeline for a new folder",
		RunE:  c.runPipeline,
	}
	run.Flags().StringVar(&c.title, "title", "", "video title")
	run.Flags().StringVar(&c.topic, "topic", "", "what the video is about")
	run.Flags().IntVar(&c.scenes, "scenes", 0, "number of scenes (default from the script prompt)")
	run.Flags().StringVar(&c.style.VisualStyle, "style", "", "visual style hint")
	run.Flags().StringVar(&c.style.AspectRatio, "aspect", "9:16", "aspect ratio")
	run.Flags().StringVar(&c.style.Voice, "voice", "", "narration voice id")
	run.Flags().StringVar(&c.style.Language, "language", "", "narration language")
	run.Flags().StringVar(&c.style.MusicMood, "music", "", "background music mood")

	stage := &cobra.Command{
		Use:   "stage <name>",
		Short: "Run a single stage against a folder",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runStage,
	}
	stage.Flags().StringVar(&c.folder, "folder", pipeline.LatestFolder, "folder token or \"latest\"")

	resume := &cobra.Command{
		Use:   "resume <folder>",
		Short: "Continue a folder from a stage through render",
		Args:  cobra.ExactArgs(1),
		RunE:  c.resume,
	}
	resume.Flags().StringVar(&c.from, "from", "", "first stage to run (default script)")

	folders := &cobra.Command{
		Use:   "folders",
		Short: "List folder tokens, newest first",
		Args:  cobra.NoArgs,
		RunE:  c.listFolders,
	}

	key := &cobra.Command{
		Use:   "key",
		Short: "Manage provider API keys stored in the database",
	}
	keySet := &cobra.Command{
		Use:   "set <provider> [key]",
		Short: "Store an API key; falls back to the provider's environment variable",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  c.setKey,
	}
	keyList := &cobra.Command{
		Use:   "list",
		Short: "List providers with a configured key",
		Args:  cobra.NoArgs,
		RunE:  c.listKeys,
	}
	key.AddCommand(keySet, keyList)

	root.AddCommand(run, stage, resume, folders, key)
	return root
}

func (c *cli) runtime(ctx context.Context) (*bootstrap.Runtime, error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := infra.NewLoggerTo(os.Stderr, cfg.AppEnv, cfg.LogLevel)
	return bootstrap.New(ctx, cfg, logger)
}

func (c *cli) request() (domain.PipelineRequest, error) {
	req := domain.PipelineRequest{
		Title:      strings.TrimSpace(c.title),
		Topic:      strings.TrimSpace(c.topic),
		SceneCount: c.scenes,
		Style:      c.style,
	}
	if req.Title == "" && req.Topic == "" {
		return req, errors.New("--title or --topic is required")
	}
	if req.SceneCount < 0 {
		return req, errors.New("--scenes must not be negative")
	}
	return req, nil
}

func (c *cli) runPipeline(cmd *cobra.Command, _ []string) error {
	req, err := c.request()
	if err != nil {
		return err
	}
	rt, err := c.runtime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	res := rt.Sequencer.RunPipeline(cmd.Context(), req)
	c.exitCode = res.ExitCode()
	return c.print(res)
}

func (c *cli) runStage(cmd *cobra.Command, args []string) error {
	name, ok := domain.ParseStageName(args[0])
	if !ok {
		return errors.Newf("unknown stage %q", args[0])
	}
	rt, err := c.runtime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	summary, runErr := rt.Sequencer.RunStage(cmd.Context(), name, c.folder)
	if runErr != nil {
		c.exitCode = 1
	}
	if err := c.print(summary); err != nil {
		return err
	}
	return runErr
}

func (c *cli) resume(cmd *cobra.Command, args []string) error {
	var from domain.StageName
	if c.from != "" {
		name, ok := domain.ParseStageName(c.from)
		if !ok {
			return errors.Newf("unknown stage %q", c.from)
		}
		from = name
	}
	rt, err := c.runtime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	res := rt.Sequencer.Resume(cmd.Context(), args[0], from)
	c.exitCode = res.ExitCode()
	return c.print(res)
}

func (c *cli) listFolders(cmd *cobra.Command, _ []string) error {
	rt, err := c.runtime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	folders, err := rt.Store.ListFolders(cmd.Context())
	if err != nil {
		return err
	}
	return c.print(map[string]any{"folders": folders})
}

func (c *cli) setKey(cmd *cobra.Command, args []string) error {
	provider := strings.ToLower(strings.TrimSpace(args[0]))
	key := ""
	if len(args) == 2 {
		key = args[1]
	}
	if strings.TrimSpace(key) == "" {
		key = os.Getenv(keyEnv(provider))
	}
	rt, err := c.runtime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()
	if rt.DB == nil {
		return errors.New("DATABASE_URL is required to store keys")
	}
	if err := rt.Credentials.SetToken(cmd.Context(), provider, key); err != nil {
		return err
	}
	return c.print(map[string]string{"provider": provider, "status": "stored"})
}

func (c *cli) listKeys(cmd *cobra.Command, _ []string) error {
	rt, err := c.runtime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()
	providers, err := rt.Credentials.ConfiguredProviders(cmd.Context())
	if err != nil {
		return err
	}
	return c.print(map[string]any{"providers": providers})
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// keyEnv names the environment variable LoadConfig reads for provider.
func keyEnv(provider string) string {
	switch provider {
	case credentials.ProviderQwen:
		return "DASHSCOPE_API_KEY"
	default:
		return strings.ToUpper(provider) + "_API_KEY"
	}
}
