package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmorganca/ggml-sys/backend"
	"github.com/jmorganca/ggml-sys/cmake"
	"github.com/jmorganca/ggml-sys/envconfig"
	"github.com/jmorganca/ggml-sys/logutil"
	"github.com/jmorganca/ggml-sys/pipeline"
	"github.com/jmorganca/ggml-sys/progress"
	"github.com/jmorganca/ggml-sys/version"
)

// LogFile collects native build output when progress is drawn instead.
const LogFile = "ggml-sys.log"

var isTerminal = progress.IsTerminal

var backendFlags = []struct {
	name  string
	usage string
}{
	{"cuda", "Enable the CUDA backend"},
	{"blas", "Enable the BLAS backend"},
	{"vulkan", "Enable the Vulkan backend (generates shaders first)"},
	{"metal", "Enable the Metal backend (macOS)"},
	{"kompute", "Enable the Kompute backend"},
	{"no-accelerate", "Disable the Accelerate framework on macOS"},
	{"static", "Build a static library (unsupported)"},
}

func addBuildFlags(cmd *cobra.Command) {
	for _, f := range backendFlags {
		cmd.Flags().Bool(f.name, false, f.usage)
	}
	cmd.Flags().Bool("native", false, "Build for the machine running this command")
	cmd.Flags().String("source", "", "ggml source tree")
	cmd.Flags().String("out", "", "Root of native build trees")
	cmd.Flags().String("bindings", "", "Generated binding file")
	cmd.Flags().Int("parallel", 0, "Parallel native build jobs")
}

// loadEnv reads the environment and applies flag overrides.
func loadEnv(cmd *cobra.Command) (envconfig.BuildEnv, error) {
	env := envconfig.Load()

	if native, _ := cmd.Flags().GetBool("native"); native {
		triple, targetOS := envconfig.NativeTriple()
		env.Host, env.Target, env.TargetOS = triple, triple, targetOS
	}

	for flag, dst := range map[string]*string{
		"source":   &env.SourceDir,
		"out":      &env.OutDir,
		"bindings": &env.BindingsPath,
	} {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}

	if cmd.Flags().Changed("parallel") {
		n, err := cmd.Flags().GetInt("parallel")
		if err != nil {
			return env, err
		}
		env.Parallel = n
	}
	return env, nil
}

// requestFromFlags starts from the environment's feature list and applies
// every backend flag given on the command line.
func requestFromFlags(cmd *cobra.Command, env envconfig.BuildEnv) (backend.Request, error) {
	req, err := backend.ParseRequest(env.Features)
	if err != nil {
		return req, err
	}

	for _, f := range backendFlags {
		if !cmd.Flags().Changed(f.name) {
			continue
		}
		on, err := cmd.Flags().GetBool(f.name)
		if err != nil {
			return req, err
		}
		if err := req.Set(strings.ReplaceAll(f.name, "-", "_"), on); err != nil {
			return req, err
		}
	}
	return req, nil
}

func BuildHandler(cmd *cobra.Command, args []string) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	req, err := requestFromFlags(cmd, env)
	if err != nil {
		return err
	}

	opts := pipeline.Options{
		Env:     env,
		Request: req,
		Stdout:  cmd.OutOrStdout(),
	}

	// a documentation build writes nothing, not even the progress log
	if show, _ := cmd.Flags().GetBool("progress"); show && !env.DocsBuild && isTerminal(os.Stderr) {
		if err := os.MkdirAll(env.OutDir, 0o755); err != nil {
			return err
		}
		f, err := os.Create(filepath.Join(env.OutDir, LogFile))
		if err != nil {
			return err
		}
		defer f.Close()

		// child output and logs would tear the redrawn lines
		slog.SetDefault(logutil.NewLogger(f, env.LogLevel))
		opts.Runner = cmake.ExecRunner{Stdout: f, Stderr: f}

		tracker := progress.NewTracker(progress.NewProgress(os.Stderr))
		defer tracker.Close()
		opts.Reporter = tracker
	}

	res, err := pipeline.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}
	if !res.Skipped {
		slog.Info("ggml-sys build complete", "bindings", res.Bindings, "lib", res.Output.LibDir)
	}
	return nil
}

func versionHandler(cmd *cobra.Command, _ []string) {
	fmt.Fprintf(cmd.OutOrStdout(), "ggml-sys version is %s\n", version.Version)
}

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ggml-sys",
		Short: "Build ggml and generate its Go bindings",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Disable usage printing on errors
			cmd.SilenceUsage = true

			if manifest, _ := cmd.Flags().GetString("manifest"); manifest != "" {
				envconfig.UseConfigFile(manifest)
			}
			slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))
			return nil
		},
	}

	rootCmd.PersistentFlags().String("manifest", "", "Manifest to read instead of "+envconfig.ManifestName)

	cobra.EnableCommandSorting = false

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Build ggml, write bindings and print link directives",
		Args:  cobra.NoArgs,
		RunE:  BuildHandler,
	}
	addBuildFlags(buildCmd)
	buildCmd.Flags().Bool("progress", false, "Draw stage progress and send tool output to "+LogFile)

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Show the detected platform and CPU features",
		Args:  cobra.NoArgs,
		RunE:  ProbeHandler,
	}
	probeCmd.Flags().Bool("native", false, "Probe for the machine running this command")

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a build would configure, without building",
		Args:  cobra.NoArgs,
		RunE:  PlanHandler,
	}
	addBuildFlags(planCmd)

	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Show the build environment",
		Args:  cobra.NoArgs,
		RunE:  EnvHandler,
	}
	envCmd.Flags().Bool("example", false, "Print an example "+envconfig.ManifestName)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run:   versionHandler,
	}

	rootCmd.AddCommand(
		buildCmd,
		probeCmd,
		planCmd,
		envCmd,
		versionCmd,
	)

	return rootCmd
}

func writeTable(w io.Writer, header []string, data [][]string) {
	table := newTable(w)
	table.SetHeader(header)
	table.AppendBulk(data)
	table.Render()
}
