package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"accelrt/internal/config"
	"accelrt/internal/pool"
	"accelrt/internal/registry"
	"accelrt/internal/rtclient"
	"accelrt/internal/shm"
	"accelrt/pkg/types"
)

var (
	flagConfig      string
	flagAddr        string
	flagExecDir     string
	flagGroupSizes  string
	flagCoreBudget  int64
	flagMaxInflight int
	flagUseShm      bool
	flagDebugAddr   string
	flagLogLevel    string
)

func main() {
	root := &cobra.Command{
		Use:           "accelctl",
		Short:         "Control-plane client for the accelerator runtime daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Optional config file (.toml/.yaml/.json)")
	pf.StringVar(&flagAddr, "daemon-address", "", "Daemon address (unix:/path or host:port)")
	pf.StringVar(&flagExecDir, "exec-dir", "~/programs", "Directory to scan for *.nef compiled programs")
	pf.StringVar(&flagGroupSizes, "group-sizes", "", "Per-group core counts, e.g. [1,1,1,1]")
	pf.Int64Var(&flagCoreBudget, "core-budget", -1, "Total-core hint used when no group-sizes list is given")
	pf.IntVar(&flagMaxInflight, "max-inflight", 0, "Max outstanding async inferences per group (0 = default)")
	pf.BoolVar(&flagUseShm, "use-shm", false, "Exchange tensors through shared memory")
	pf.StringVar(&flagDebugAddr, "debug-addr", "", "Optional debug listener address serving /metrics and /status")
	pf.StringVar(&flagLogLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")

	root.AddCommand(newModelsCmd(), newRunCmd(), newStatusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "accelctl:", err)
		os.Exit(1)
	}
}

// resolveConfig merges file, flags and env, in that priority order for
// flags over file, with env filling remaining gaps.
func resolveConfig() (config.Config, error) {
	var cfg config.Config
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if flagAddr != "" {
		cfg.DaemonAddress = flagAddr
	}
	if flagExecDir != "" {
		cfg.ExecDir = flagExecDir
	}
	if flagGroupSizes != "" {
		cfg.GroupSizes = flagGroupSizes
	}
	if flagCoreBudget >= 0 {
		cfg.CoreBudget = flagCoreBudget
	} else if cfg.CoreBudget == 0 {
		cfg.CoreBudget = -1
	}
	if flagMaxInflight > 0 {
		cfg.MaxInflight = flagMaxInflight
	}
	if flagUseShm {
		cfg.UseShm = true
	}
	if flagDebugAddr != "" {
		cfg.DebugAddr = flagDebugAddr
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	cfg.ApplyEnv()
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List compiled programs found in the executable directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			execs, err := registry.LoadDir(cfg.ExecDir)
			if err != nil {
				return err
			}
			for _, e := range execs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d bytes\t%s\n", e.ID, e.SizeBytes, e.Path)
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe daemon reachability by reserving and releasing one group",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)
			client, err := rtclient.Connect(cfg.DaemonAddress, log)
			if err != nil {
				return err
			}
			defer client.Close()
			ctx := cmd.Context()
			eg, cores, err := client.CreateEG(ctx, -1)
			if err != nil {
				return err
			}
			defer func() {
				if err := client.DestroyEG(ctx, eg); err != nil {
					log.Warn().Err(err).Msg("probe group teardown failed")
				}
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "daemon %s reachable, default group has %d cores\n", cfg.DaemonAddress, cores)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var (
		inputArgs  []string
		outputArgs []string
		timeoutSec uint32
		maxInfer   uint32
		useAsync   bool
	)
	cmd := &cobra.Command{
		Use:   "run <program>",
		Short: "Load a compiled program and run one inference round trip",
		Long: "Loads the given *.nef program (an id from the exec directory, or a path) onto a\n" +
			"pool-placed execution group and runs one inference with the given tensors.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)

			inputs, err := readInputTensors(inputArgs)
			if err != nil {
				return err
			}
			outputs, err := parseOutputSpecs(outputArgs)
			if err != nil {
				return err
			}

			client, err := rtclient.Connect(cfg.DaemonAddress, log)
			if err != nil {
				return err
			}
			defer client.Close()

			p := pool.New(client, pool.Config{GroupSizes: cfg.GroupSizes, MaxInflight: cfg.MaxInflight}, log)
			installSignalTeardown(p, log)
			stopDebug := startDebugListener(cfg.DebugAddr, p, log)
			defer stopDebug()
			ctx := cmd.Context()
			defer p.Clear(ctx)

			executable, err := resolveExecutable(cfg.ExecDir, args[0])
			if err != nil {
				return err
			}
			g, err := p.Apply(ctx, cfg.CoreBudget)
			if err != nil {
				return err
			}
			nn, err := g.Load(ctx, executable, timeoutSec, maxInfer)
			if err != nil {
				return err
			}

			var set *rtclient.ShmSet
			if cfg.UseShm {
				mgr := shm.New(client, log)
				defer mgr.Teardown(ctx)
				err := mgr.Initialize(ctx, nn, types.Sizes(types.SpecsOf(inputs)), types.Sizes(types.SpecsOf(outputs)))
				if err != nil {
					log.Warn().Err(err).Msg("shared memory setup failed; falling back to inline tensors")
				} else {
					set = mgr.Set()
				}
			}

			if useAsync {
				pending, err := g.InferPost(ctx, nn, inputs)
				if err != nil {
					return err
				}
				if err := pending.Wait(ctx, outputs); err != nil {
					return err
				}
			} else {
				if err := g.Infer(ctx, nn, inputs, outputs, set); err != nil {
					return err
				}
			}
			if err := g.Unload(ctx, nn); err != nil {
				log.Warn().Err(err).Msg("unload failed")
			}
			return writeOutputTensors(cmd, outputs)
		},
	}
	cmd.Flags().StringArrayVar(&inputArgs, "input", nil, "Input tensor as name=path (binary file)")
	cmd.Flags().StringArrayVar(&outputArgs, "output", nil, "Output tensor as name=bytes")
	cmd.Flags().Uint32Var(&timeoutSec, "timeout", 10, "Daemon-side inference timeout in seconds")
	cmd.Flags().Uint32Var(&maxInfer, "ninfer", 1, "Daemon-side max concurrent inferences for the model")
	cmd.Flags().BoolVar(&useAsync, "async", false, "Use the split post/wait protocol")
	return cmd
}

func resolveExecutable(dir, ref string) ([]byte, error) {
	if b, err := os.ReadFile(ref); err == nil {
		return b, nil
	}
	execs, err := registry.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range execs {
		if e.ID == ref {
			return os.ReadFile(e.Path)
		}
	}
	return nil, fmt.Errorf("program %q not found (not a path, not in %s)", ref, dir)
}

func readInputTensors(args []string) ([]types.Tensor, error) {
	var tensors []types.Tensor
	for _, a := range args {
		name, path, ok := strings.Cut(a, "=")
		if !ok {
			return nil, fmt.Errorf("malformed --input %q, want name=path", a)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		tensors = append(tensors, types.Tensor{Name: name, Data: b})
	}
	return tensors, nil
}

func parseOutputSpecs(args []string) ([]types.Tensor, error) {
	var tensors []types.Tensor
	for _, a := range args {
		name, sz, ok := strings.Cut(a, "=")
		if !ok {
			return nil, fmt.Errorf("malformed --output %q, want name=bytes", a)
		}
		var n int
		if _, err := fmt.Sscanf(sz, "%d", &n); err != nil || n <= 0 {
			return nil, fmt.Errorf("malformed --output size %q", sz)
		}
		tensors = append(tensors, types.Tensor{Name: name, Data: make([]byte, n)})
	}
	return tensors, nil
}

func writeOutputTensors(cmd *cobra.Command, outputs []types.Tensor) error {
	for _, out := range outputs {
		path := out.Name + ".out"
		if err := os.WriteFile(path, out.Data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d bytes\t%s\n", out.Name, len(out.Data), path)
	}
	return nil
}
