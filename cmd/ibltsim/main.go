// Command ibltsim simulates set reconciliation with invertible bloom lookup
// tables and reports how often decoding succeeds for a given table size and
// set difference.
package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jcalabro/iblt"
)

const envPrefix = "IBLTSIM"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var logger *zap.Logger

	root := &cobra.Command{
		Use:          "ibltsim",
		Short:        "Simulate IBLT set reconciliation",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindConfig(v, cmd); err != nil {
				return err
			}
			l, err := newLogger(v.GetString("log-level"), v.GetBool("log-json"))
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "load configuration from file")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "log as JSON instead of plain text")
	flags.Int("buckets", 0, "number of buckets; derived from the difference at 75% fill when zero")
	flags.Int("item-bytes", 16, "length of each item key in bytes")
	flags.Int("hashes", iblt.DefaultHashes, "number of buckets each item is added to")
	flags.Int("shared", 10_000, "number of keys held by both peers")
	flags.Float64("local-share", 0.5, "fraction of the difference held only by the local peer")
	flags.Int("trials", 100, "number of trials per experiment")
	flags.Uint64("seed", 1, "seed for key derivation")

	root.AddCommand(newRunCmd(v, &logger), newSweepCmd(v, &logger))
	return root
}

func newRunCmd(v *viper.Viper, logger **zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single reconciliation experiment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := experimentFromConfig(v, v.GetInt("diff"))
			s, err := e.run(*logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "table:       iblt<%d,%d,%d>\n", e.Buckets, e.ItemBytes, e.Hashes)
			fmt.Fprintf(out, "difference:  %d (fill %.1f%%)\n", e.Diff, fill(e.Diff, e.Buckets)*100)
			fmt.Fprintf(out, "success:     %d/%d (%.1f%%)\n", s.Complete, s.Trials, s.successRate()*100)
			fmt.Fprintf(out, "recovered:   %d of %d\n", s.Recovered, e.Diff*s.Trials)
			fmt.Fprintf(out, "wrong:       %d\n", s.Wrong)
			fmt.Fprintf(out, "aborted:     %d\n", s.Aborted)
			fmt.Fprintf(out, "wire bytes:  %d (raw set %d)\n", s.WireSize, s.RawSize)
			return nil
		},
	}
	cmd.Flags().Int("diff", 100, "size of the symmetric difference")
	return cmd
}

func newSweepCmd(v *viper.Viper, logger **zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Measure decode success across a range of fill factors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			minFill, maxFill, step := v.GetFloat64("min-fill"), v.GetFloat64("max-fill"), v.GetFloat64("step")
			if step <= 0 || minFill <= 0 || maxFill < minFill {
				return fmt.Errorf("invalid sweep range [%v, %v] step %v", minFill, maxFill, step)
			}
			buckets := v.GetInt("buckets")
			if buckets <= 0 {
				return fmt.Errorf("sweep requires --buckets")
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "FILL\tDIFF\tSUCCESS\tWRONG\tABORTED")
			// Iterate in integer steps so rounding does not skip the last fill.
			steps := int((maxFill-minFill)/step + 1e-9)
			for i := 0; i <= steps; i++ {
				f := minFill + float64(i)*step
				e := experimentFromConfig(v, int(f*float64(buckets)))
				s, err := e.run(*logger)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%.2f\t%d\t%.3f\t%d\t%d\n", f, e.Diff, s.successRate(), s.Wrong, s.Aborted)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Float64("min-fill", 0.5, "lowest fill factor")
	cmd.Flags().Float64("max-fill", 1.0, "highest fill factor")
	cmd.Flags().Float64("step", 0.05, "fill factor increment")
	return cmd
}

func experimentFromConfig(v *viper.Viper, diff int) experiment {
	buckets := v.GetInt("buckets")
	if buckets <= 0 {
		buckets = iblt.BucketsFor(uint64(max(diff, 0)))
	}
	return experiment{
		Buckets:    buckets,
		ItemBytes:  v.GetInt("item-bytes"),
		Hashes:     v.GetInt("hashes"),
		Shared:     v.GetInt("shared"),
		Diff:       diff,
		LocalShare: v.GetFloat64("local-share"),
		Trials:     v.GetInt("trials"),
		Seed:       v.GetUint64("seed"),
	}
}

// bindConfig makes every flag of cmd readable through v, with IBLTSIM_*
// environment variables and an optional config file as fallbacks.
func bindConfig(v *viper.Viper, cmd *cobra.Command) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
			bindErr = fmt.Errorf("binding flag %s: %w", f.Name, err)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return nil
}

func newLogger(level string, json bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	if json {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func fill(diff, buckets int) float64 {
	if buckets == 0 {
		return 0
	}
	return float64(diff) / float64(buckets)
}
