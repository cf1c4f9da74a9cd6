package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nektos/cachesave/pkg/actionenv"
	"github.com/nektos/cachesave/pkg/cacheclient"
	"github.com/nektos/cachesave/pkg/common"
	"github.com/nektos/cachesave/pkg/github"
	"github.com/nektos/cachesave/pkg/save"
)

var (
	workdir    string
	inputFile  string
	stateFile  string
	actionFile string
	verbose    bool
	jsonLogs   bool
	dryrun     bool
)

// Execute is the entry point to running the CLI
func Execute(ctx context.Context, version string) {
	rootCmd := &cobra.Command{
		Use:          "cachesave",
		Short:        "Save a dependency cache from a CI job to a remote cache service.",
		Args:         cobra.NoArgs,
		RunE:         newSaveAction(ctx),
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&workdir, "directory", "C", ".", "working directory")
	rootCmd.Flags().StringVar(&inputFile, "input-file", "", "dotenv file with INPUT_* values, merged over the environment")
	rootCmd.Flags().StringVar(&stateFile, "state-file", "", "dotenv file with state handed off by the restore step")
	rootCmd.Flags().StringVar(&actionFile, "action-file", "", "action metadata file supplying input defaults (default \"action.yml\" if present)")
	rootCmd.Flags().BoolVar(&jsonLogs, "json", false, "output logs in json format")
	rootCmd.Flags().BoolVarP(&dryrun, "dryrun", "n", false, "decide but don't delete or upload anything")
	rootCmd.AddCommand(newServeCmd(ctx))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newSaveAction(ctx context.Context) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}

		environ := os.Environ()
		env := actionenv.GitHubEnvFrom(environ)

		masks := []string{env.Token, env.RuntimeToken}
		ctx := common.WithLogger(ctx, newLogger(&masks))
		ctx = common.WithDryrun(ctx, dryrun)

		return runSafely(ctx, func() error {
			inputs, err := loadInputs(environ)
			if err != nil {
				return err
			}
			cfg, err := save.ConfigFromInputs(inputs)
			if err != nil {
				return err
			}

			state, err := loadState(environ)
			if err != nil {
				return err
			}

			if env.Token == "" {
				// developer machines have no job token, try the gh CLI
				if token, err := github.AuthToken(ctx, workdir); err == nil && token != "" {
					env.Token = token
					masks = append(masks, token)
				}
			}

			opts := save.Options{
				Env:    env,
				Config: cfg,
				State:  state,
				Cache: cacheclient.New(env.CacheURL, env.RuntimeToken,
					cacheclient.WithChunkSize(cfg.ChunkSize)),
				Root: resolveRoot(env),
			}
			if env.HasCredentials() && env.APIURL != "" {
				api := github.New(env.APIURL, env.Token, env.Repository)
				opts.Deleter = api
				opts.Versions = api
			}

			return save.Run(ctx, opts)
		})
	}
}

// runSafely downgrades a panic anywhere in the flow, input parsing included,
// to a warning. A cache failure must not fail the job; missing required
// configuration still returns an error.
func runSafely(ctx context.Context, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			common.Logger(ctx).Warnf("Unexpected error while saving cache: %v", r)
		}
	}()
	return fn()
}

func newLogger(masks *[]string) log.FieldLogger {
	logger := log.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(log.GetLevel())
	if jsonLogs {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(common.NewFormatter(masks))
	}
	return logger
}

func loadInputs(environ []string) (actionenv.Inputs, error) {
	inputs := actionenv.InputsFromEnviron(environ)

	if inputFile != "" {
		values, err := godotenv.Read(resolve(inputFile))
		if err != nil {
			return nil, err
		}
		for k, v := range values {
			inputs.Set(strings.TrimPrefix(k, "INPUT_"), v)
		}
	}

	metadataFile := actionFile
	if metadataFile == "" {
		candidate := filepath.Join(resolve("."), "action.yml")
		if _, err := os.Stat(candidate); err == nil {
			metadataFile = candidate
		}
	}
	if metadataFile == "" {
		return inputs, nil
	}
	meta, err := actionenv.ReadMetadataFile(resolve(metadataFile))
	if err != nil {
		return nil, err
	}
	return meta.Apply(inputs)
}

func loadState(environ []string) (actionenv.StateProvider, error) {
	if stateFile != "" {
		return actionenv.LoadStateFile(resolve(stateFile))
	}
	return actionenv.EnvStateFrom(environ), nil
}

// resolveRoot picks the directory path patterns resolve against: the job
// workspace when the platform provides one and no explicit directory was
// given.
func resolveRoot(env actionenv.GitHubEnv) string {
	if workdir == "." && env.Workspace != "" {
		return env.Workspace
	}
	return resolve(".")
}

func resolve(path string) string {
	basedir, err := filepath.Abs(workdir)
	if err != nil {
		log.Fatal(err)
	}
	if path == "" {
		return path
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(basedir, path)
	}
	return path
}
